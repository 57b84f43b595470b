package gdpr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/queue"
	"github.com/readlater/readlater/internal/storage"
)

const (
	// DefaultDownloadURLTTL is how long a presigned archive URL stays valid.
	DefaultDownloadURLTTL = 24 * time.Hour

	// DefaultStaleAfter is how long an active job may go without progress
	// before a new request replaces it.
	DefaultStaleAfter = 24 * time.Hour
)

// UserLookup resolves a user's encoded id.
type UserLookup interface {
	EncodedIDForUserID(ctx context.Context, userID string) (string, error)
}

// Config holds the dependencies of a Service.
type Config struct {
	Repo   Repository
	Users  UserLookup
	Layout export.Layout

	// Queues maps each export service to the queue that drives it.
	Queues map[string]queue.Sender

	// Store clears previous chunks and assembles archives. Signer issues
	// download URLs and may be nil in a process that serves none.
	Store  storage.ObjectStore
	Signer storage.URLSigner

	DownloadURLTTL time.Duration

	// StaleAfter is how long a pending or processing job may go without
	// progress before it is treated as abandoned. Default: DefaultStaleAfter.
	StaleAfter time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Service starts export requests and assembles their archives.
type Service struct {
	repo     Repository
	users    UserLookup
	layout   export.Layout
	queues   map[string]queue.Sender
	services []string
	store    storage.ObjectStore
	signer   storage.URLSigner
	ttl      time.Duration
	stale    time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

var _ export.Notifier = (*Service)(nil)

// NewService creates a new export request service.
func NewService(cfg Config) *Service {
	services := make([]string, 0, len(cfg.Queues))
	for name := range cfg.Queues {
		services = append(services, name)
	}
	sort.Strings(services)

	layout := cfg.Layout
	if layout.PartsPrefix == "" {
		layout = export.DefaultLayout()
	}
	ttl := cfg.DownloadURLTTL
	if ttl <= 0 {
		ttl = DefaultDownloadURLTTL
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = NewExportID
	}

	return &Service{
		repo:     cfg.Repo,
		users:    cfg.Users,
		layout:   layout,
		queues:   cfg.Queues,
		services: services,
		store:    cfg.Store,
		signer:   cfg.Signer,
		ttl:      ttl,
		stale:    stale,
		logger:   cfg.Logger.With().Str("component", "gdpr").Logger(),
		now:      now,
		newID:    newID,
	}
}

// NewExportID returns a new export request id.
func NewExportID() string {
	return "exp_" + uuid.New().String()[:22]
}

// Services returns the export services every request covers.
func (s *Service) Services() []string {
	return append([]string(nil), s.services...)
}

// CreateExport records a new export request for userID, clears the chunks of
// the user's previous export and enqueues the first chunk of every export
// service. It fails with ErrExportInProgress while the user's latest request
// is active and has made progress within StaleAfter. A stale request is
// marked failed and replaced. If enqueueing fails the new request is marked
// failed so that a retry is not blocked.
func (s *Service) CreateExport(ctx context.Context, userID string) (*ExportJob, error) {
	latest, err := s.repo.ListByUser(ctx, userID, 1)
	if err != nil {
		return nil, fmt.Errorf("listing export requests: %w", err)
	}
	if len(latest) > 0 && latest[0].Status.Active() {
		prev := latest[0]
		idle := s.now().Sub(prev.UpdatedAt)
		if idle < s.stale {
			return nil, &InProgressError{ID: prev.ID}
		}
		reason := fmt.Sprintf("abandoned after %s without progress", idle.Round(time.Minute))
		if _, err := s.repo.MarkFailed(ctx, prev.ID, reason); err != nil {
			return nil, fmt.Errorf("failing stale export request: %w", err)
		}
		s.logger.Warn().
			Str("request_id", prev.ID).
			Dur("idle", idle).
			Msg("replacing stale export request")
	}

	encodedID, err := s.users.EncodedIDForUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving encoded id: %w", err)
	}

	// Part numbering restarts at zero, so chunks of an earlier and larger
	// export would otherwise end up in this archive.
	prefix := s.layout.Prefix(encodedID)
	removed, err := s.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("clearing previous chunks: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Str("prefix", prefix).Int("removed", removed).Msg("cleared previous export chunks")
	}

	now := s.now().UTC()
	job := &ExportJob{
		ID:        s.newID(),
		UserID:    userID,
		EncodedID: encodedID,
		Status:    StatusPending,
		Services:  s.Services(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating export request: %w", err)
	}

	for _, service := range s.services {
		req := export.Request{
			RequestID: job.ID,
			UserID:    userID,
			EncodedID: encodedID,
			Cursor:    export.StartCursor,
			Part:      0,
		}
		msgID, err := s.queues[service].Send(ctx, req)
		if err != nil {
			err = fmt.Errorf("enqueueing %s export: %w", service, err)
			if _, ferr := s.repo.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error()); ferr != nil {
				s.logger.Error().Err(ferr).Str("request_id", job.ID).Msg("failed to mark export request failed")
			}
			return nil, err
		}
		s.logger.Info().
			Str("request_id", job.ID).
			Str("service", service).
			Str("message_id", msgID).
			Msg("export enqueued")
	}

	return job, nil
}

// NotifyComplete records that one service finished writing its chunks. When
// the last service completes, every chunk under the user's prefix is archived
// and the request becomes ready.
func (s *Service) NotifyComplete(ctx context.Context, pc export.PartComplete) error {
	log := s.logger.With().
		Str("request_id", pc.RequestID).
		Str("service", pc.Service).
		Str("encoded_id", pc.EncodedID).
		Logger()

	job, err := s.repo.MarkServiceComplete(ctx, pc.RequestID, pc.Service)
	if err != nil {
		if errors.Is(err, ErrExportNotFound) {
			log.Warn().Msg("completion for unknown export request")
			return nil
		}
		return fmt.Errorf("marking %s complete: %w", pc.Service, err)
	}

	switch job.Status {
	case StatusReady:
		log.Debug().Msg("export request already archived")
		return nil
	case StatusFailed:
		log.Warn().Msg("completion for failed export request, not archiving")
		return nil
	}
	if pending := job.PendingServices(); len(pending) > 0 {
		log.Info().Strs("pending", pending).Msg("service export complete")
		return nil
	}

	prefix := pc.Prefix
	if prefix == "" {
		prefix = s.layout.Prefix(job.EncodedID)
	}
	archiveKey, err := s.store.ZipByPrefix(ctx, prefix, job.ID+".zip")
	if err != nil {
		return fmt.Errorf("archiving %s: %w", prefix, err)
	}

	if _, err := s.repo.MarkReady(ctx, job.ID, archiveKey); err != nil {
		return fmt.Errorf("marking export ready: %w", err)
	}

	log.Info().Str("archive_key", archiveKey).Msg("export archive ready")
	return nil
}

// GetExport returns userID's export request. Requests of other users are
// reported as not found.
func (s *Service) GetExport(ctx context.Context, userID, id string) (*ExportJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrExportNotFound
	}
	return job, nil
}

// ListExports returns userID's export requests, newest first.
func (s *Service) ListExports(ctx context.Context, userID string, limit int) ([]*ExportJob, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

// DownloadURL presigns the archive of a ready job.
func (s *Service) DownloadURL(ctx context.Context, job *ExportJob) (string, time.Time, error) {
	if job.Status != StatusReady || job.ArchiveKey == "" {
		return "", time.Time{}, ErrExportNotReady
	}
	url, err := s.signer.PresignGet(ctx, job.ArchiveKey, s.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presigning archive: %w", err)
	}
	return url, s.now().UTC().Add(s.ttl), nil
}
