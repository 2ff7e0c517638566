package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
)

// MemoryCVEStore is an in-process CVEStore used for local development (DB_DRIVER=memory)
// and tests. It applies the same filter, sort and upsert rules as ArangoCVEStore.
type MemoryCVEStore struct {
	mu   sync.RWMutex
	docs map[string]model.Vulnerability
}

// NewMemoryCVEStore returns an empty store
func NewMemoryCVEStore() *MemoryCVEStore {
	return &MemoryCVEStore{docs: make(map[string]model.Vulnerability)}
}

// Ensure compile-time interface check
var _ CVEStore = (*MemoryCVEStore)(nil)

// Upsert stores a deep copy of v unless an as-new-or-newer record exists
func (s *MemoryCVEStore) Upsert(_ context.Context, v model.Vulnerability) (UpsertResult, error) {
	key := util.SanitizeKey(v.CVE.ID)
	if key == "" {
		return "", fmt.Errorf("cannot upsert record without cve id")
	}

	stored, err := clone(v)
	if err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", v.CVE.ID, err)
	}
	stored.StripInternalFields()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[key]
	if !ok {
		s.docs[key] = stored
		return UpsertInserted, nil
	}
	if existing.CVE.LastModified != "" && v.CVE.LastModified <= existing.CVE.LastModified {
		return UpsertSkipped, nil
	}
	s.docs[key] = stored
	return UpsertReplaced, nil
}

// FindByID returns a copy of the record with the given id
func (s *MemoryCVEStore) FindByID(_ context.Context, id string) (*model.Vulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.docs {
		if v.CVE.ID == id {
			return cloneRef(v)
		}
	}
	return nil, ErrNotFound
}

// FindNewestByModifiedDate returns a copy of the most recently modified record
func (s *MemoryCVEStore) FindNewestByModifiedDate(_ context.Context) (*model.Vulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *model.Vulnerability
	for _, v := range s.docs {
		if v.CVE.LastModified == "" {
			continue
		}
		if newest == nil || v.CVE.LastModified > newest.CVE.LastModified {
			candidate := v
			newest = &candidate
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return cloneRef(*newest)
}

// Count returns the number of records matching filter
func (s *MemoryCVEStore) Count(_ context.Context, filter CVEFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, v := range s.docs {
		if matches(v.CVE, filter) {
			total++
		}
	}
	return total, nil
}

// Query returns one sorted page of matching records and the total match count
func (s *MemoryCVEStore) Query(_ context.Context, filter CVEFilter, opts QueryOptions) ([]model.Vulnerability, int, error) {
	s.mu.RLock()
	var matched []model.Vulnerability
	for _, v := range s.docs {
		if matches(v.CVE, filter) {
			matched = append(matched, v)
		}
	}
	s.mu.RUnlock()

	field := NormalizeSortField(opts.SortField)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := sortValue(matched[i].CVE, field), sortValue(matched[j].CVE, field)
		if a == b {
			a, b = matched[i].CVE.ID, matched[j].CVE.ID
		}
		if opts.Descending {
			return a > b
		}
		return a < b
	})

	total := len(matched)
	start := min(max(opts.Skip, 0), total)
	end := total
	if opts.Limit > 0 {
		end = min(start+opts.Limit, total)
	}

	page := make([]model.Vulnerability, 0, end-start)
	for _, v := range matched[start:end] {
		c, err := clone(v)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, c)
	}
	return page, total, nil
}

// SeverityCounts buckets every record by the severity of its primary score
func (s *MemoryCVEStore) SeverityCounts(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{}
	for _, v := range s.docs {
		score := util.PrimaryCVSSScore(v.CVE.Metrics)
		if score == nil {
			counts[SeverityUnscored]++
			continue
		}
		counts[util.GetSeverityRating(*score)]++
	}
	return counts, nil
}

func matches(c model.CVE, filter CVEFilter) bool {
	id := strings.ToLower(c.ID)
	if filter.IDContains != "" && !strings.Contains(id, strings.ToLower(filter.IDContains)) {
		return false
	}
	if filter.Year != "" && c.Year() != filter.Year {
		return false
	}
	if !util.ScoreInRange(c.Metrics, filter.MinScore, filter.MaxScore) {
		return false
	}
	if filter.ModifiedSince != "" && c.LastModified < filter.ModifiedSince {
		return false
	}
	return true
}

// clone deep copies a record through its JSON form so callers never share maps with the store
func clone(v model.Vulnerability) (model.Vulnerability, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return model.Vulnerability{}, err
	}
	var out model.Vulnerability
	if err := json.Unmarshal(b, &out); err != nil {
		return model.Vulnerability{}, err
	}
	return out, nil
}

func cloneRef(v model.Vulnerability) (*model.Vulnerability, error) {
	c, err := clone(v)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
