package cvesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/metrics"
	"github.com/ortelius/cvefeed-backend/internal/nvd"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed serves pages from an in-memory list, honouring the lastModified window
type fakeFeed struct {
	mu       sync.Mutex
	entries  []model.Vulnerability
	requests []nvd.PageRequest
	failAt   int // request number (1-based) that fails; 0 never
	noTotal  bool
}

func (f *fakeFeed) Fetch(_ context.Context, req nvd.PageRequest) (*nvd.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.failAt == len(f.requests) {
		return nil, fmt.Errorf("%w: status code 503", nvd.ErrUpstreamUnavailable)
	}

	var matched []model.Vulnerability
	for _, v := range f.entries {
		if req.LastModStartDate != "" && v.CVE.LastModified < req.LastModStartDate {
			continue
		}
		if req.LastModEndDate != "" && v.CVE.LastModified > req.LastModEndDate {
			continue
		}
		matched = append(matched, v)
	}

	start := min(req.StartIndex, len(matched))
	end := min(start+req.ResultsPerPage, len(matched))
	return &nvd.Page{
		StartIndex:      req.StartIndex,
		ResultsPerPage:  req.ResultsPerPage,
		TotalResults:    len(matched),
		HasTotal:        !f.noTotal,
		Vulnerabilities: matched[start:end],
	}, nil
}

func entry(id, lastModified string) model.Vulnerability {
	return model.Vulnerability{
		CVE: model.CVE{ID: id, Published: "2020-01-01T00:00:00.000", LastModified: lastModified},
		Raw: map[string]interface{}{"cve": map[string]interface{}{
			"id":           id,
			"published":    "2020-01-01T00:00:00.000",
			"lastModified": lastModified,
		}},
	}
}

func entries(n int, lastModified string) []model.Vulnerability {
	out := make([]model.Vulnerability, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, entry(fmt.Sprintf("CVE-2020-%04d", i), lastModified))
	}
	return out
}

type harness struct {
	syncer  *Synchronizer
	store   *database.MemoryCVEStore
	feed    *fakeFeed
	metrics *metrics.Metrics
	sleeps  []time.Duration
}

func newHarness(t *testing.T, feed *fakeFeed, pageSize int, now time.Time) *harness {
	t.Helper()
	h := &harness{
		store:   database.NewMemoryCVEStore(),
		feed:    feed,
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	h.syncer = New(feed, h.store, nil, h.metrics, Config{PageSize: pageSize, RequestDelay: 6 * time.Second})
	h.syncer.now = func() time.Time { return now }
	h.syncer.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInitialSyncPaginates(t *testing.T) {
	feed := &fakeFeed{entries: entries(5, "2021-01-01T00:00:00.000")}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, processed)

	require.Len(t, feed.requests, 3)
	for i, req := range feed.requests {
		assert.Equal(t, i*2, req.StartIndex)
		assert.Equal(t, 2, req.ResultsPerPage)
		assert.Empty(t, req.LastModStartDate)
		assert.Empty(t, req.LastModEndDate)
	}
	// a pause between pages, none after the last
	assert.Equal(t, []time.Duration{6 * time.Second, 6 * time.Second}, h.sleeps)

	total, err := h.store.Count(context.Background(), database.CVEFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncRuns.WithLabelValues(FlowInitial, "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.SyncRecords.WithLabelValues(FlowInitial, "inserted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.UpstreamRequests.WithLabelValues("ok")))

	status := h.syncer.Status().Snapshot()[FlowInitial]
	assert.False(t, status.Running)
	assert.Equal(t, 5, status.LastProcessed)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.LastSuccess)
}

func TestInitialSyncExactMultipleOfPageSize(t *testing.T) {
	feed := &fakeFeed{entries: entries(4, "2021-01-01T00:00:00.000")}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Len(t, feed.requests, 2)
}

func TestInitialSyncEmptyFeed(t *testing.T) {
	feed := &fakeFeed{}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Len(t, feed.requests, 1)
}

func TestInitialSyncStopsWithoutTotal(t *testing.T) {
	feed := &fakeFeed{entries: entries(5, "2021-01-01T00:00:00.000"), noTotal: true}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Len(t, feed.requests, 1)
}

func TestInitialSyncAbortsOnUpstreamFailure(t *testing.T) {
	feed := &fakeFeed{entries: entries(5, "2021-01-01T00:00:00.000"), failAt: 2}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, nvd.ErrUpstreamUnavailable)
	assert.Equal(t, 2, processed)

	// the first page stays stored
	total, err := h.store.Count(context.Background(), database.CVEFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	status := h.syncer.Status().Snapshot()[FlowInitial]
	assert.False(t, status.Running)
	assert.NotEmpty(t, status.LastError)
	assert.Nil(t, status.LastSuccess)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncRuns.WithLabelValues(FlowInitial, "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UpstreamRequests.WithLabelValues("unavailable")))
}

func TestInitialSyncSkipsEntriesWithoutID(t *testing.T) {
	feed := &fakeFeed{entries: []model.Vulnerability{
		entry("CVE-2020-0001", "2021-01-01T00:00:00.000"),
		entry("", "2021-01-01T00:00:00.000"),
	}}
	h := newHarness(t, feed, 10, fixedNow)

	processed, err := h.syncer.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestIncrementalSyncFromWatermark(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{entries: []model.Vulnerability{
		entry("CVE-2020-0001", "2024-02-10T00:00:00.000"),
		entry("CVE-2020-0002", "2024-02-20T00:00:00.000"),
		entry("CVE-2020-0003", "2024-02-25T00:00:00.000"),
		entry("CVE-2020-0004", "2024-02-26T00:00:00.000"),
	}}
	h := newHarness(t, feed, 2, fixedNow)

	_, err := h.store.Upsert(ctx, entry("CVE-2020-0001", "2024-02-10T00:00:00.000"))
	require.NoError(t, err)
	_, err = h.store.Upsert(ctx, entry("CVE-2020-0009", "2024-02-15T00:00:00.000"))
	require.NoError(t, err)

	processed, err := h.syncer.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	require.Len(t, feed.requests, 2)
	assert.Equal(t, "2024-02-15T00:00:00.000", feed.requests[0].LastModStartDate)
	assert.Equal(t, "2024-03-01T12:00:00.000", feed.requests[0].LastModEndDate)
	assert.Equal(t, 0, feed.requests[0].StartIndex)
	assert.Equal(t, 2, feed.requests[1].StartIndex)
	assert.Equal(t, feed.requests[0].LastModStartDate, feed.requests[1].LastModStartDate)

	newest, err := h.store.FindNewestByModifiedDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CVE-2020-0004", newest.CVE.ID)

	// nothing new: the replayed newest record is skipped
	processed, err = h.syncer.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncRecords.WithLabelValues(FlowIncremental, "skipped")))
}

func TestIncrementalSyncSplitsLongGaps(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{}
	h := newHarness(t, feed, 2000, fixedNow)

	_, err := h.store.Upsert(ctx, entry("CVE-2020-0001", "2023-06-01T00:00:00.000"))
	require.NoError(t, err)

	_, err = h.syncer.IncrementalSync(ctx)
	require.NoError(t, err)

	require.Len(t, feed.requests, 3)
	assert.Equal(t, "2023-06-01T00:00:00.000", feed.requests[0].LastModStartDate)
	assert.Equal(t, "2023-09-29T00:00:00.000", feed.requests[0].LastModEndDate)
	assert.Equal(t, "2023-09-29T00:00:00.000", feed.requests[1].LastModStartDate)
	assert.Equal(t, "2024-01-27T00:00:00.000", feed.requests[1].LastModEndDate)
	assert.Equal(t, "2024-01-27T00:00:00.000", feed.requests[2].LastModStartDate)
	assert.Equal(t, "2024-03-01T12:00:00.000", feed.requests[2].LastModEndDate)
	assert.Len(t, h.sleeps, 2)
}

func TestIncrementalSyncEmptyStoreRunsInitialSync(t *testing.T) {
	feed := &fakeFeed{entries: entries(3, "2021-01-01T00:00:00.000")}
	h := newHarness(t, feed, 2, fixedNow)

	processed, err := h.syncer.IncrementalSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	for _, req := range feed.requests {
		assert.Empty(t, req.LastModStartDate)
	}

	snapshot := h.syncer.Status().Snapshot()
	assert.Equal(t, 3, snapshot[FlowInitial].LastProcessed)
	assert.Equal(t, 3, snapshot[FlowIncremental].LastProcessed)
}

func TestSyncStopsOnCancel(t *testing.T) {
	feed := &fakeFeed{entries: entries(5, "2021-01-01T00:00:00.000")}
	h := newHarness(t, feed, 2, fixedNow)
	h.syncer.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.syncer.InitialSync(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, feed.requests, 1)
}

func TestIncrementalWindows(t *testing.T) {
	tests := []struct {
		name      string
		watermark string
		now       time.Time
		want      []window
		wantErr   bool
	}{
		{
			name:      "short gap",
			watermark: "2024-02-28T10:11:12.345",
			now:       fixedNow,
			want:      []window{{start: "2024-02-28T10:11:12.345", end: "2024-03-01T12:00:00.000"}},
		},
		{
			name:      "exactly the maximum range",
			watermark: "2023-11-02T12:00:00.000",
			now:       fixedNow,
			want:      []window{{start: "2023-11-02T12:00:00.000", end: "2024-03-01T12:00:00.000"}},
		},
		{
			name:      "unparseable watermark",
			watermark: "yesterday",
			now:       fixedNow,
			wantErr:   true,
		},
		{
			name:      "future watermark",
			watermark: "2025-01-01T00:00:00.000",
			now:       fixedNow,
			want:      nil,
		},
		{
			name:      "watermark equal to now",
			watermark: "2024-03-01T12:00:00.000",
			now:       fixedNow,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := incrementalWindows(tt.watermark, tt.now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for _, w := range got {
				assert.NotEmpty(t, w.start)
				assert.NotEmpty(t, w.end)
			}
		})
	}
}

func TestIncrementalSyncFutureWatermarkFetchesNothing(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{}
	h := newHarness(t, feed, 2000, fixedNow)

	_, err := h.store.Upsert(ctx, entry("CVE-2020-0001", "2025-01-01T00:00:00.000"))
	require.NoError(t, err)

	processed, err := h.syncer.IncrementalSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Empty(t, feed.requests)
	assert.NotNil(t, h.syncer.Status().Snapshot()[FlowIncremental].LastSuccess)
}

func TestIncrementalSyncUnparseableWatermarkFails(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{}
	h := newHarness(t, feed, 2000, fixedNow)

	_, err := h.store.Upsert(ctx, entry("CVE-2020-0001", "last tuesday"))
	require.NoError(t, err)

	_, err = h.syncer.IncrementalSync(ctx)
	require.Error(t, err)
	assert.Empty(t, feed.requests)

	status := h.syncer.Status().Snapshot()[FlowIncremental]
	assert.Contains(t, status.LastError, "invalid sync watermark")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncRuns.WithLabelValues(FlowIncremental, "failure")))
}
