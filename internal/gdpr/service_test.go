package gdpr_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/gdpr"
	"github.com/readlater/readlater/internal/queue"
	"github.com/readlater/readlater/internal/storage"
	"github.com/readlater/readlater/internal/user"
)

type countingStore struct {
	*storage.MemoryStore
	zips int
}

func (s *countingStore) ZipByPrefix(ctx context.Context, prefix, archiveName string) (string, error) {
	s.zips++
	return s.MemoryStore.ZipByPrefix(ctx, prefix, archiveName)
}

// flakySender fails its first failures sends.
type flakySender struct {
	queue.Sender
	failures int
}

func (s *flakySender) Send(ctx context.Context, body any) (string, error) {
	if s.failures > 0 {
		s.failures--
		return "", errors.New("transient")
	}
	return s.Sender.Send(ctx, body)
}

type fixture struct {
	svc         *gdpr.Service
	repo        *gdpr.InMemoryRepository
	users       *user.Directory
	store       *countingStore
	list        *queue.MemoryQueue
	annotations *queue.MemoryQueue
	now         time.Time
	ids         int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := user.NewInMemoryRepository()
	users.Add(&user.User{ID: "42", EncodedID: "enc42"})

	f := &fixture{
		repo:        gdpr.NewInMemoryRepository(),
		users:       user.NewDirectory(users),
		store:       &countingStore{MemoryStore: storage.NewMemoryStore("archives")},
		list:        queue.NewMemoryQueue(3),
		annotations: queue.NewMemoryQueue(3),
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = gdpr.NewService(gdpr.Config{
		Repo:  f.repo,
		Users: f.users,
		Queues: map[string]queue.Sender{
			"list":        f.list,
			"annotations": f.annotations,
		},
		Store:          f.store,
		Signer:         f.store,
		DownloadURLTTL: time.Hour,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return f.now },
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("exp_%d", f.ids)
		},
	})
	return f
}

func TestService_CreateExportEnqueuesFirstChunks(t *testing.T) {
	f := newFixture(t)

	job, err := f.svc.CreateExport(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "exp_1", job.ID)
	assert.Equal(t, "enc42", job.EncodedID)
	assert.Equal(t, gdpr.StatusPending, job.Status)
	assert.Equal(t, []string{"annotations", "list"}, job.Services)

	for _, q := range []*queue.MemoryQueue{f.list, f.annotations} {
		bodies := q.Bodies()
		require.Len(t, bodies, 1)

		var req export.Request
		require.NoError(t, json.Unmarshal(bodies[0], &req))
		assert.Equal(t, export.Request{
			RequestID: "exp_1",
			UserID:    "42",
			EncodedID: "enc42",
			Cursor:    export.StartCursor,
			Part:      0,
		}, req)
	}

	stored, err := f.repo.Get(context.Background(), "exp_1")
	require.NoError(t, err)
	assert.Equal(t, job.Services, stored.Services)
}

func TestService_CreateExportWhileInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	_, err = f.svc.CreateExport(ctx, "42")
	assert.ErrorIs(t, err, gdpr.ErrExportInProgress)
	var active *gdpr.InProgressError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, "exp_1", active.ID)
	assert.Equal(t, 1, f.list.Len())

	for _, service := range []string{"list", "annotations"} {
		require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
			EncodedID: "enc42", RequestID: "exp_1", Service: service, Prefix: "parts/enc42",
		}))
	}

	f.now = f.now.Add(time.Minute)
	_, err = f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, f.list.Len())
}

func TestService_CreateExportUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateExport(context.Background(), "nobody")
	assert.ErrorIs(t, err, user.ErrUserNotFound)
	assert.Equal(t, 0, f.list.Len())
}

func TestService_CreateExportRetryAfterEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	list := &flakySender{Sender: f.list, failures: 1}
	f.svc = gdpr.NewService(gdpr.Config{
		Repo:  f.repo,
		Users: f.users,
		Queues: map[string]queue.Sender{
			"list":        list,
			"annotations": f.annotations,
		},
		Store:  f.store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return f.now },
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("exp_%d", f.ids)
		},
	})

	_, err := f.svc.CreateExport(ctx, "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueueing list export")

	failed, err := f.repo.Get(ctx, "exp_1")
	require.NoError(t, err)
	assert.Equal(t, gdpr.StatusFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, "transient")

	job, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "exp_2", job.ID)
	assert.Equal(t, gdpr.StatusPending, job.Status)
	assert.Equal(t, 1, f.list.Len())
}

func TestService_CreateExportReplacesStaleRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.svc.CreateExport(ctx, "42")
	assert.ErrorIs(t, err, gdpr.ErrExportInProgress)

	f.now = f.now.Add(gdpr.DefaultStaleAfter)
	job, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "exp_2", job.ID)

	stale, err := f.repo.Get(ctx, "exp_1")
	require.NoError(t, err)
	assert.Equal(t, gdpr.StatusFailed, stale.Status)
	assert.Contains(t, stale.FailureReason, "abandoned")

	// Late completions of the abandoned request must not archive.
	for _, service := range []string{"list", "annotations"} {
		require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
			EncodedID: "enc42", RequestID: "exp_1", Service: service, Prefix: "parts/enc42",
		}))
	}
	assert.Zero(t, f.store.zips)

	stale, err = f.repo.Get(ctx, "exp_1")
	require.NoError(t, err)
	assert.Equal(t, gdpr.StatusFailed, stale.Status)
}

func TestService_CreateExportClearsPreviousChunks(t *testing.T) {
	f := newFixture(t)
	f.store.Put("parts/enc42/list/part_000007.csv", []byte("old"))
	f.store.Put("parts/enc420/list/part_000000.csv", []byte("other user"))
	f.store.Put("archives/exp_0.zip", []byte("zip"))

	_, err := f.svc.CreateExport(context.Background(), "42")
	require.NoError(t, err)

	assert.Empty(t, f.store.Keys("parts/enc42/"))
	assert.Len(t, f.store.Keys("parts/enc420/"), 1)
	assert.Len(t, f.store.Keys("archives/"), 1)
}

func TestService_NotifyCompleteArchivesWhenAllServicesDone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	f.store.Put("parts/enc42/list/part_000000.csv", []byte("id\n1\n"))
	f.store.Put("parts/enc42/annotations/part_000000.json", []byte("[]\n"))

	require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
		EncodedID: "enc42", RequestID: "exp_1", Service: "list", Prefix: "parts/enc42",
	}))

	job, err := f.svc.GetExport(ctx, "42", "exp_1")
	require.NoError(t, err)
	assert.Equal(t, gdpr.StatusProcessing, job.Status)
	assert.Equal(t, []string{"annotations"}, job.PendingServices())
	assert.Equal(t, 0, f.store.zips)

	require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
		EncodedID: "enc42", RequestID: "exp_1", Service: "annotations", Prefix: "parts/enc42",
	}))

	job, err = f.svc.GetExport(ctx, "42", "exp_1")
	require.NoError(t, err)
	assert.Equal(t, gdpr.StatusReady, job.Status)
	assert.Equal(t, "archives/exp_1.zip", job.ArchiveKey)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, 1, f.store.zips)

	_, ok := f.store.Get("archives/exp_1.zip")
	assert.True(t, ok)
}

func TestService_NotifyCompleteDuplicateDoesNotRearchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	for _, service := range []string{"list", "annotations", "list", "annotations"} {
		require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
			EncodedID: "enc42", RequestID: "exp_1", Service: service, Prefix: "parts/enc42",
		}))
	}

	assert.Equal(t, 1, f.store.zips)
}

func TestService_NotifyCompleteUnknownRequest(t *testing.T) {
	f := newFixture(t)

	err := f.svc.NotifyComplete(context.Background(), export.PartComplete{
		EncodedID: "enc42", RequestID: "exp_missing", Service: "list",
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, f.store.zips)
}

func TestService_GetExportOtherUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	_, err = f.svc.GetExport(ctx, "7", "exp_1")
	assert.ErrorIs(t, err, gdpr.ErrExportNotFound)
}

func TestService_DownloadURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateExport(ctx, "42")
	require.NoError(t, err)

	job, err := f.svc.GetExport(ctx, "42", "exp_1")
	require.NoError(t, err)
	_, _, err = f.svc.DownloadURL(ctx, job)
	assert.ErrorIs(t, err, gdpr.ErrExportNotReady)

	for _, service := range []string{"list", "annotations"} {
		require.NoError(t, f.svc.NotifyComplete(ctx, export.PartComplete{
			EncodedID: "enc42", RequestID: "exp_1", Service: service, Prefix: "parts/enc42",
		}))
	}

	job, err = f.svc.GetExport(ctx, "42", "exp_1")
	require.NoError(t, err)
	url, expiresAt, err := f.svc.DownloadURL(ctx, job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "memory:///archives/exp_1.zip?"))
	assert.Equal(t, f.now.Add(time.Hour), expiresAt)
}

func TestNewExportID(t *testing.T) {
	id := gdpr.NewExportID()
	assert.True(t, strings.HasPrefix(id, "exp_"))
	assert.Len(t, id, 26)
	assert.NotEqual(t, id, gdpr.NewExportID())
}
