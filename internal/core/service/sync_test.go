package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"readsync/internal/adapters/destination"
	"readsync/internal/adapters/source"
	"readsync/internal/config"
	"readsync/internal/core/domain/models"
	"readsync/internal/core/service"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newConfig() *config.Config {
	return &config.Config{
		FeishuAppID:         "cli_app",
		FeishuAppSecret:     "secret",
		FeishuAppToken:      "app1",
		FeishuTableID:       "tbl1",
		WeReadCookie:        "wr_skey=abc",
		BatchSize:           10,
		FetchAttempts:       3,
		FetchBackoff:        time.Millisecond,
		HTTPTimeout:         5 * time.Second,
		TreatEmptyAsFailed:  true,
		Timezone:            "UTC",
		StatusFinished:      "finished",
		StatusInProgress:    "in-progress",
		ColumnTitle:         "Title",
		ColumnAuthor:        "Author",
		ColumnProgress:      "Reading Progress",
		ColumnStatus:        "Reading Status",
		ColumnCover:         "Cover",
		ColumnCategories:    "Categories",
		ColumnCompletedDate: "Completed Date",
	}
}

// fakeAuth implements ports.TokenProvider
type fakeAuth struct {
	calls *[]string
	err   error
}

func (f *fakeAuth) FetchToken(ctx context.Context) (models.Token, error) {
	*f.calls = append(*f.calls, "token")
	if f.err != nil {
		return models.Token{}, f.err
	}
	return models.Token{Value: "t-abc"}, nil
}

// fakeSource implements ports.BookSource; it serves responses in order and
// repeats the last one.
type fakeSource struct {
	calls     *[]string
	responses []sourceResponse
	n         int
}

type sourceResponse struct {
	books []models.SourceRecord
	err   error
}

func (f *fakeSource) FetchBooks(ctx context.Context) ([]models.SourceRecord, error) {
	*f.calls = append(*f.calls, "books")
	r := f.responses[min(f.n, len(f.responses)-1)]
	f.n++
	return r.books, r.err
}

// fakeDest implements ports.RecordDestination
type fakeDest struct {
	calls  *[]string
	sizes  []int
	failOn map[int]bool
}

func (f *fakeDest) BatchCreate(ctx context.Context, token models.Token, records []models.DestinationRecord) error {
	*f.calls = append(*f.calls, "write")
	f.sizes = append(f.sizes, len(records))
	if f.failOn[len(f.sizes)] {
		return fmt.Errorf("%w: code 1254045", models.ErrWriteBatch)
	}
	return nil
}

// fakeHistory implements ports.RunRecorder
type fakeHistory struct {
	runs []models.RunSummary
}

func (f *fakeHistory) RecordRun(ctx context.Context, s models.RunSummary) error {
	f.runs = append(f.runs, s)
	return nil
}

func (f *fakeHistory) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	return f.runs, nil
}

func books(n int) []models.SourceRecord {
	out := make([]models.SourceRecord, n)
	for i := range out {
		out[i] = models.SourceRecord{
			"title":        fmt.Sprintf("Book %d", i),
			"author":       "Author",
			"markedStatus": json.Number("4"),
		}
	}
	return out
}

type harness struct {
	calls   []string
	auth    *fakeAuth
	src     *fakeSource
	dest    *fakeDest
	history *fakeHistory
}

func newHarness(responses ...sourceResponse) *harness {
	h := &harness{history: &fakeHistory{}}
	h.auth = &fakeAuth{calls: &h.calls}
	h.src = &fakeSource{calls: &h.calls, responses: responses}
	h.dest = &fakeDest{calls: &h.calls}
	return h
}

func (h *harness) service(cfg *config.Config, logger *zap.Logger) *service.SyncService {
	return service.NewSyncService(cfg, h.auth, h.src, h.dest, h.history, logger)
}

func count(calls []string, kind string) int {
	n := 0
	for _, c := range calls {
		if c == kind {
			n++
		}
	}
	return n
}

func TestSyncService_PartialDelivery(t *testing.T) {
	h := newHarness(sourceResponse{books: books(23)})
	h.dest.failOn = map[int]bool{2: true}

	core, logs := observer.New(zap.InfoLevel)
	summary, err := h.service(newConfig(), zap.New(core)).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 3}, h.dest.sizes)
	assert.Equal(t, 13, summary.Succeeded)
	assert.Equal(t, 23, summary.Total)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, models.RunStatusPartial, summary.Status)

	finished := logs.FilterMessage("sync finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, "13/23", finished[0].ContextMap()["result"])

	assert.Equal(t, 1, logs.FilterMessage("batch write failed").Len())

	require.Len(t, h.history.runs, 1)
	assert.Equal(t, summary.RunID, h.history.runs[0].RunID)
	assert.False(t, h.history.runs[0].FinishedAt.IsZero())
}

func TestSyncService_StageOrder(t *testing.T) {
	h := newHarness(sourceResponse{books: books(12)})

	_, err := h.service(newConfig(), nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"token", "books", "write", "write"}, h.calls)
}

func TestSyncService_EmptyShelfAbortsAfterRetries(t *testing.T) {
	h := newHarness(sourceResponse{books: []models.SourceRecord{}})

	summary, err := h.service(newConfig(), nil).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSourceFetch))
	assert.Equal(t, 3, count(h.calls, "books"))
	assert.Zero(t, count(h.calls, "write"))
	assert.Equal(t, models.RunStatusFailed, summary.Status)
	assert.Equal(t, models.RunStatusFailed, h.history.runs[0].Status)
}

func TestSyncService_EmptyShelfAllowed(t *testing.T) {
	h := newHarness(sourceResponse{books: []models.SourceRecord{}})
	cfg := newConfig()
	cfg.TreatEmptyAsFailed = false

	summary, err := h.service(cfg, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count(h.calls, "books"))
	assert.Zero(t, count(h.calls, "write"))
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, models.RunStatusSucceeded, summary.Status)
}

func TestSyncService_SourceRecoversOnRetry(t *testing.T) {
	h := newHarness(
		sourceResponse{err: errors.New("connection reset")},
		sourceResponse{books: nil},
		sourceResponse{books: books(3)},
	)

	summary, err := h.service(newConfig(), nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, count(h.calls, "books"))
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, models.RunStatusSucceeded, summary.Status)
}

func TestSyncService_SourceErrorExhausted(t *testing.T) {
	h := newHarness(sourceResponse{err: errors.New("status: 502")})
	cfg := newConfig()
	cfg.TreatEmptyAsFailed = false

	_, err := h.service(cfg, nil).Run(context.Background())

	require.ErrorIs(t, err, models.ErrSourceFetch)
	assert.Contains(t, err.Error(), "status: 502")
	assert.Equal(t, 3, count(h.calls, "books"))
	assert.Zero(t, count(h.calls, "write"))
}

func TestSyncService_AuthFailureAborts(t *testing.T) {
	h := newHarness(sourceResponse{books: books(5)})
	h.auth.err = errors.New("dial tcp: connection refused")

	_, err := h.service(newConfig(), nil).Run(context.Background())

	require.ErrorIs(t, err, models.ErrAuthentication)
	assert.Equal(t, []string{"token"}, h.calls)
}

func TestSyncService_AllBatchesFail(t *testing.T) {
	h := newHarness(sourceResponse{books: books(15)})
	h.dest.failOn = map[int]bool{1: true, 2: true}

	summary, err := h.service(newConfig(), nil).Run(context.Background())

	require.ErrorIs(t, err, models.ErrWriteBatch)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 2, summary.FailedBatches)
	assert.Equal(t, models.RunStatusFailed, summary.Status)
}

func TestSyncService_DryRun(t *testing.T) {
	h := newHarness(sourceResponse{books: books(4)})
	cfg := newConfig()
	cfg.DryRun = true

	core, logs := observer.New(zap.InfoLevel)
	summary, err := h.service(cfg, zap.New(core)).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"books"}, h.calls)
	assert.Equal(t, models.RunStatusDryRun, summary.Status)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, logs.FilterMessage("dry run record").Len())
}

func TestSyncService_LogsDegradedRecords(t *testing.T) {
	h := newHarness(sourceResponse{books: []models.SourceRecord{
		{"author": "Anon", "finishReadingTime": "soon"},
	}})

	core, logs := observer.New(zap.InfoLevel)
	_, err := h.service(newConfig(), zap.New(core)).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("record degraded").Len())
}

// TestSyncService_EndToEnd runs the real adapters against fake WeRead and
// Feishu servers.
func TestSyncService_EndToEnd(t *testing.T) {
	weread := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wr_skey=abc", r.Header.Get("Cookie"))
		fmt.Fprint(w, `{"books":[
			{"book":{"title":"三体","author":"刘慈欣","readingProgress":100,"markedStatus":4,
			         "cover":"https://cdn.example.com/a.jpg","categories":[{"title":"科幻"}],"finishReadingTime":1700000000}},
			{"book":{"title":"Dune","author":"Frank Herbert","readingProgress":35,"markedStatus":1,"cover":"/relative.jpg"}},
			{"book":{"title":"Emma","author":"Jane Austen"}}
		]}`)
	}))
	defer weread.Close()

	var (
		mu      sync.Mutex
		written []map[string]any
	)
	feishu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/auth/v3/tenant_access_token/internal":
			fmt.Fprint(w, `{"code":0,"msg":"ok","tenant_access_token":"t-e2e","expire":7200}`)
		case "/open-apis/bitable/v1/apps/app1/tables/tbl1/records/batch_create":
			assert.Equal(t, "Bearer t-e2e", r.Header.Get("Authorization"))
			var body struct {
				Records []struct {
					Fields map[string]any `json:"fields"`
				} `json:"records"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			for _, rec := range body.Records {
				written = append(written, rec.Fields)
			}
			mu.Unlock()
			fmt.Fprint(w, `{"code":0,"msg":"success"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer feishu.Close()

	cfg := newConfig()
	cfg.BatchSize = 2
	cfg.FeishuAPIBase = feishu.URL + "/open-apis"
	cfg.WeReadShelfURL = weread.URL + "/web/shelf/sync"

	logger := zap.NewNop()
	svc := service.NewSyncService(cfg,
		destination.NewFeishuAuthAdapter(cfg.TokenURL(), cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.HTTPTimeout, logger),
		source.NewWeReadAdapter(cfg.WeReadShelfURL, cfg.WeReadCookie, cfg.HTTPTimeout, logger),
		destination.NewBitableAdapter(cfg.BitableRecordsURL(), cfg.HTTPTimeout, logger),
		nil,
		logger,
	)

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	require.Len(t, written, 3)

	assert.Equal(t, "三体", written[0]["Title"])
	assert.Equal(t, "finished", written[0]["Reading Status"])
	assert.Equal(t, "2023-11-14", written[0]["Completed Date"])
	assert.Equal(t, []any{"科幻"}, written[0]["Categories"])
	assert.Equal(t, map[string]any{"link": "https://cdn.example.com/a.jpg", "text": "https://cdn.example.com/a.jpg"}, written[0]["Cover"])

	assert.Equal(t, "in-progress", written[1]["Reading Status"])
	assert.Equal(t, float64(35), written[1]["Reading Progress"])
	assert.NotContains(t, written[1], "Cover")

	assert.Equal(t, float64(0), written[2]["Reading Progress"])
	assert.NotContains(t, written[2], "Completed Date")
	assert.NotContains(t, written[2], "Categories")
}
