// Package cvesync mirrors the NVD feed into the CVE store. It provides a full
// initial sync and an incremental sync driven by the newest stored lastModified
// timestamp (the watermark). Both flows share one pagination loop and one upsert path.
package cvesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/metrics"
	"github.com/ortelius/cvefeed-backend/internal/nvd"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
	"go.uber.org/zap"
)

const (
	// FlowInitial labels the full dataset sync
	FlowInitial = "initial"
	// FlowIncremental labels the watermark driven sync
	FlowIncremental = "incremental"

	// DefaultRequestDelay keeps unauthenticated clients under 5 requests per 30 seconds
	DefaultRequestDelay = 6 * time.Second
	// KeyedRequestDelay keeps API key holders under 50 requests per 30 seconds
	KeyedRequestDelay = 600 * time.Millisecond
)

// Fetcher retrieves one page of the upstream feed
type Fetcher interface {
	Fetch(ctx context.Context, req nvd.PageRequest) (*nvd.Page, error)
}

// Config tunes paging and pacing
type Config struct {
	PageSize     int           // defaults to nvd.MaxResultsPerPage
	RequestDelay time.Duration // pause between successive page requests
}

// Synchronizer drives the initial and incremental sync flows
type Synchronizer struct {
	fetcher      Fetcher
	store        database.CVEStore
	logger       *zap.Logger
	metrics      *metrics.Metrics
	status       *Status
	pageSize     int
	requestDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Synchronizer; a nil logger or metrics set is replaced by a no-op one
func New(fetcher Fetcher, store database.CVEStore, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > nvd.MaxResultsPerPage {
		pageSize = nvd.MaxResultsPerPage
	}

	return &Synchronizer{
		fetcher:      fetcher,
		store:        store,
		logger:       logger,
		metrics:      m,
		status:       newStatus(),
		pageSize:     pageSize,
		requestDelay: cfg.RequestDelay,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Status returns the live status tracker
func (s *Synchronizer) Status() *Status {
	return s.status
}

// window bounds an incremental fetch by lastModified; the initial sync uses the zero window,
// whose empty values are omitted from the request
type window struct {
	start string
	end   string
}

// InitialSync pages through the whole upstream dataset and upserts every entry.
// It returns the number of entries processed.
func (s *Synchronizer) InitialSync(ctx context.Context) (int, error) {
	return s.track(FlowInitial, func() (int, error) {
		s.logger.Info("Starting initial data synchronization")
		return s.paginate(ctx, FlowInitial, window{})
	})
}

// IncrementalSync fetches every record modified since the newest stored lastModified.
// An empty store falls back to InitialSync.
func (s *Synchronizer) IncrementalSync(ctx context.Context) (int, error) {
	return s.track(FlowIncremental, func() (int, error) {
		newest, err := s.store.FindNewestByModifiedDate(ctx)
		if errors.Is(err, database.ErrNotFound) {
			s.logger.Info("No existing records found, performing full sync")
			return s.InitialSync(ctx)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read sync watermark: %w", err)
		}

		watermark := newest.CVE.LastModified
		s.logger.Info("Fetching CVEs modified since watermark", zap.String("watermark", watermark))

		windows, err := incrementalWindows(watermark, s.now())
		if err != nil {
			return 0, err
		}
		if len(windows) == 0 {
			s.logger.Warn("Watermark is not in the past, nothing to fetch", zap.String("watermark", watermark))
			return 0, nil
		}

		processed := 0
		for i, w := range windows {
			if i > 0 {
				if err := s.sleep(ctx, s.requestDelay); err != nil {
					return processed, err
				}
			}
			n, err := s.paginate(ctx, FlowIncremental, w)
			processed += n
			if err != nil {
				return processed, err
			}
		}
		return processed, nil
	})
}

// paginate walks the pages of one window until totalResults is exhausted
func (s *Synchronizer) paginate(ctx context.Context, flow string, w window) (int, error) {
	startIndex := 0
	processed := 0

	for {
		s.logger.Info("Fetching CVEs", zap.String("flow", flow), zap.Int("start_index", startIndex))

		page, err := s.fetch(ctx, nvd.PageRequest{
			StartIndex:       startIndex,
			ResultsPerPage:   s.pageSize,
			LastModStartDate: w.start,
			LastModEndDate:   w.end,
		})
		if err != nil {
			return processed, err
		}

		n, err := s.apply(ctx, flow, page.Vulnerabilities)
		processed += n
		if err != nil {
			return processed, err
		}

		s.logger.Info("Processed CVE page",
			zap.String("flow", flow),
			zap.Int("processed", n),
			zap.Int("total_so_far", processed),
			zap.Int("total_results", page.TotalResults))

		if !page.HasTotal {
			s.logger.Warn("Page has no totalResults, stopping", zap.String("flow", flow))
			return processed, nil
		}
		if startIndex+s.pageSize >= page.TotalResults {
			return processed, nil
		}

		startIndex += s.pageSize

		if err := s.sleep(ctx, s.requestDelay); err != nil {
			return processed, err
		}
	}
}

func (s *Synchronizer) fetch(ctx context.Context, req nvd.PageRequest) (*nvd.Page, error) {
	page, err := s.fetcher.Fetch(ctx, req)
	switch {
	case err == nil:
		s.metrics.UpstreamRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, nvd.ErrMalformedPage):
		s.metrics.UpstreamRequests.WithLabelValues("malformed").Inc()
	default:
		s.metrics.UpstreamRequests.WithLabelValues("unavailable").Inc()
	}
	return page, err
}

// apply upserts each entry; entries without an id are skipped
func (s *Synchronizer) apply(ctx context.Context, flow string, vulns []model.Vulnerability) (int, error) {
	count := 0
	for _, v := range vulns {
		if v.CVE.ID == "" {
			s.logger.Warn("Skipping entry without cve.id", zap.String("flow", flow))
			continue
		}

		result, err := s.store.Upsert(ctx, v)
		if err != nil {
			return count, err
		}
		s.metrics.SyncRecords.WithLabelValues(flow, string(result)).Inc()
		count++
	}
	return count, nil
}

// track records status and metrics around one pass; failures are logged and returned, never panicked
func (s *Synchronizer) track(flow string, run func() (int, error)) (int, error) {
	s.status.start(flow, s.now())

	processed, err := run()

	finished := s.now()
	s.status.finish(flow, finished, processed, err)
	if err != nil {
		s.metrics.SyncRuns.WithLabelValues(flow, "failure").Inc()
		s.logger.Error("Sync pass failed",
			zap.String("flow", flow),
			zap.Int("processed", processed),
			zap.Error(err))
		return processed, err
	}

	s.metrics.SyncRuns.WithLabelValues(flow, "success").Inc()
	s.metrics.LastSuccess.WithLabelValues(flow).Set(float64(finished.Unix()))
	s.logger.Info("Sync pass complete", zap.String("flow", flow), zap.Int("processed", processed))
	return processed, nil
}

// incrementalWindows splits [watermark, now] into windows no wider than nvd.MaxDateRange.
// The first window starts at the watermark verbatim and every window carries both bounds,
// since NVD rejects an unpaired lastModStartDate. A watermark at or after now yields no
// windows; one that cannot be parsed is an error.
func incrementalWindows(watermark string, now time.Time) ([]window, error) {
	start, err := util.ParseNVDTime(watermark)
	if err != nil {
		return nil, fmt.Errorf("invalid sync watermark: %w", err)
	}

	var windows []window
	for cur := start; cur.Before(now); {
		next := cur.Add(nvd.MaxDateRange)
		if next.After(now) {
			next = now
		}

		w := window{start: util.FormatNVDTime(cur), end: util.FormatNVDTime(next)}
		if len(windows) == 0 {
			w.start = watermark
		}
		windows = append(windows, w)
		cur = next
	}
	return windows, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
