package export_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/readlater/readlater/internal/export"
)

type countingReporter struct {
	errs []error
}

func (r *countingReporter) Report(_ context.Context, err error, _ ...attribute.KeyValue) {
	r.errs = append(r.errs, err)
}

type orchestratorFixture struct {
	orchestrator *export.Orchestrator[int]
	continuer    *recordingContinuer
	notifier     *recordingNotifier
	reporter     *countingReporter
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T, src export.Source[int]) orchestratorFixture {
	t.Helper()
	f := orchestratorFixture{
		continuer: &recordingContinuer{},
		notifier:  &recordingNotifier{},
		reporter:  &countingReporter{},
	}
	o, err := export.New(export.Config[int]{
		Source:    src,
		Layout:    export.DefaultLayout(),
		Continuer: f.continuer,
		Notifier:  f.notifier,
		Logger:    zerolog.Nop(),
		Reporter:  f.reporter,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	f.orchestrator = o
	return f
}

func startRequest() export.Request {
	return export.Request{
		RequestID: "req-1",
		UserID:    "42",
		EncodedID: "enc42",
		Cursor:    export.StartCursor,
		Part:      0,
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := export.New(export.Config[int]{Source: newIntSource(1)})
	assert.Error(t, err)
}

func TestExportChunk_Lookahead(t *testing.T) {
	src := newIntSource(11)
	f := newOrchestrator(t, src)

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), startRequest(), 10))

	assert.Equal(t, idRange(1, 10), csvIDs(t, src.store, "parts/enc42/list/part_000000.csv"))

	reqs := f.continuer.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "11", reqs[0].Cursor)
	assert.Equal(t, 1, reqs[0].Part)
	assert.Equal(t, "req-1", reqs[0].RequestID)
	assert.Empty(t, f.notifier.all())
}

func TestExportChunk_FinalPage(t *testing.T) {
	src := newIntSource(10)
	f := newOrchestrator(t, src)

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), startRequest(), 10))

	assert.Equal(t, idRange(1, 10), csvIDs(t, src.store, "parts/enc42/list/part_000000.csv"))
	assert.Empty(t, f.continuer.all())

	completed := f.notifier.all()
	require.Len(t, completed, 1)
	assert.Equal(t, export.PartComplete{
		EncodedID: "enc42",
		RequestID: "req-1",
		Service:   "list",
		Timestamp: fixedNow,
		Prefix:    "parts/enc42",
	}, completed[0])
}

func TestExportChunk_EmptyFirstChunk(t *testing.T) {
	src := newIntSource(0)
	f := newOrchestrator(t, src)

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), startRequest(), 10))

	assert.Empty(t, src.store.Keys(""))
	assert.Empty(t, f.continuer.all())
	assert.Len(t, f.notifier.all(), 1)
}

func TestExportChunk_EmptyLaterPageCompletes(t *testing.T) {
	src := newIntSource(20)
	f := newOrchestrator(t, src)

	req := startRequest()
	req.Cursor = "21"
	req.Part = 2

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), req, 10))

	assert.Empty(t, src.store.Keys(""))
	assert.Empty(t, f.continuer.all())
	require.Len(t, f.notifier.all(), 1)
	assert.Equal(t, "parts/enc42", f.notifier.all()[0].Prefix)
}

func TestExportChunk_FetchErrorIsReturned(t *testing.T) {
	src := newIntSource(5)
	src.fetchErr = errors.New("connection reset")
	f := newOrchestrator(t, src)

	err := f.orchestrator.ExportChunk(context.Background(), startRequest(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, src.fetchErr)
	assert.Len(t, f.reporter.errs, 1)
	assert.Empty(t, f.notifier.all())
	assert.Empty(t, f.continuer.all())
}

func TestExportChunk_ContinueErrorIsReturned(t *testing.T) {
	src := newIntSource(15)
	f := newOrchestrator(t, src)
	f.continuer.err = errors.New("queue unavailable")

	err := f.orchestrator.ExportChunk(context.Background(), startRequest(), 10)
	assert.ErrorIs(t, err, f.continuer.err)
	assert.Len(t, f.reporter.errs, 1)
}

func TestExportChunk_InvalidRequest(t *testing.T) {
	f := newOrchestrator(t, newIntSource(5))

	req := startRequest()
	req.UserID = ""
	assert.ErrorIs(t, f.orchestrator.ExportChunk(context.Background(), req, 10), export.ErrInvalidRequest)

	assert.ErrorIs(t, f.orchestrator.ExportChunk(context.Background(), startRequest(), 0), export.ErrInvalidRequest)
}

func TestExportChunk_CursorNotAdvancing(t *testing.T) {
	t.Run("unordered source repeats cursor", func(t *testing.T) {
		src := newIntSource(0)
		src.ids = []int{3, 3, 3}
		src.ignoreFrom = true
		f := newOrchestrator(t, src)

		req := startRequest()
		req.Cursor = "3"
		req.Part = 1

		err := f.orchestrator.ExportChunk(context.Background(), req, 2)
		assert.ErrorIs(t, err, export.ErrCursorNotAdvancing)
		assert.Empty(t, src.store.Keys(""))
		assert.Empty(t, f.continuer.all())
	})

	t.Run("ordered source goes backwards", func(t *testing.T) {
		src := newIntSource(30)
		src.ignoreFrom = true
		f := newOrchestrator(t, orderedIntSource{src})

		req := startRequest()
		req.Cursor = "21"
		req.Part = 2

		err := f.orchestrator.ExportChunk(context.Background(), req, 10)
		assert.ErrorIs(t, err, export.ErrCursorNotAdvancing)
		assert.Empty(t, f.continuer.all())
	})
}

func TestExportChunk_RerunIsIdempotent(t *testing.T) {
	src := newIntSource(15)
	f := newOrchestrator(t, src)
	req := startRequest()

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), req, 10))
	first, _ := src.store.Get("parts/enc42/list/part_000000.csv")

	require.NoError(t, f.orchestrator.ExportChunk(context.Background(), req, 10))
	second, _ := src.store.Get("parts/enc42/list/part_000000.csv")

	assert.Equal(t, first, second)
	assert.Len(t, src.store.Keys("parts/enc42/"), 1)

	reqs := f.continuer.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
}
