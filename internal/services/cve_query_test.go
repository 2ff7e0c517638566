package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, store database.CVEStore, docs ...string) {
	t.Helper()
	for _, doc := range docs {
		var v model.Vulnerability
		require.NoError(t, json.Unmarshal([]byte(doc), &v))
		_, err := store.Upsert(context.Background(), v)
		require.NoError(t, err)
	}
}

const (
	cveV2Only = `{"cve": {"id": "CVE-2019-1111", "sourceIdentifier": "cve@mitre.org", "published": "2019-03-01T00:00:00.000",
		"lastModified": "2024-02-20T00:00:00.000", "vulnStatus": "Analyzed",
		"descriptions": [{"lang": "es", "value": "Desbordamiento"}, {"lang": "en", "value": "Buffer overflow"}],
		"metrics": {"cvssMetricV2": [{"cvssData": {"baseScore": 7.2}}]}}}`
	cveV31AndV2 = `{"cve": {"id": "CVE-2021-2222", "sourceIdentifier": "secalert@redhat.com", "published": "2021-06-01T00:00:00.000",
		"lastModified": "2021-07-01T00:00:00.000", "vulnStatus": "Modified",
		"descriptions": [{"lang": "en", "value": "Remote code execution"}],
		"metrics": {"cvssMetricV31": [{"cvssData": {"baseScore": 9.8}}, {"cvssData": {"baseScore": 8.1}}],
		            "cvssMetricV2": [{"cvssData": {"baseScore": 5.0}}]}}}`
	cveNoMetrics = `{"cve": {"id": "CVE-2021-3333", "published": "2021-01-01T00:00:00.000",
		"lastModified": "2021-01-02T00:00:00.000", "vulnStatus": "Received", "descriptions": []}}`
)

func newService(t *testing.T) *CVEQueryService {
	t.Helper()
	store := database.NewMemoryCVEStore()
	seed(t, store, cveV2Only, cveV31AndV2, cveNoMetrics)
	svc := NewCVEQueryService(store)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func defaultParams() ListParams {
	return ListParams{Page: 1, ResultsPerPage: DefaultResultsPerPage, SortOrder: -1}
}

func TestListSummaries(t *testing.T) {
	svc := newService(t)

	result, err := svc.List(context.Background(), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.TotalPages)
	require.Len(t, result.CVEs, 3)

	// published, newest first
	assert.Equal(t, []string{"CVE-2021-2222", "CVE-2021-3333", "CVE-2019-1111"},
		lo.Map(result.CVEs, func(s model.CVESummary, _ int) string { return s.CveID }))

	v31 := result.CVEs[0]
	require.NotNil(t, v31.CvssScore)
	assert.Equal(t, 9.8, *v31.CvssScore)
	assert.Equal(t, "secalert@redhat.com", v31.Identifier)
	assert.Equal(t, "Modified", v31.Status)
	assert.Equal(t, "Remote code execution", v31.Description)

	none := result.CVEs[1]
	assert.Nil(t, none.CvssScore)
	assert.Empty(t, none.Description)

	v2 := result.CVEs[2]
	require.NotNil(t, v2.CvssScore)
	assert.Equal(t, 7.2, *v2.CvssScore)
	assert.Equal(t, "Buffer overflow", v2.Description)
}

func TestListFilters(t *testing.T) {
	svc := newService(t)

	tests := []struct {
		name    string
		mutate  func(p *ListParams)
		wantIDs []string
	}{
		{
			name:    "min score matches a v2 only record",
			mutate:  func(p *ListParams) { p.MinScore = lo.ToPtr(7.0) },
			wantIDs: []string{"CVE-2021-2222", "CVE-2019-1111"},
		},
		{
			name:    "max score matches any score on the record",
			mutate:  func(p *ListParams) { p.MaxScore = lo.ToPtr(5.0) },
			wantIDs: []string{"CVE-2021-2222"},
		},
		{
			name:    "year",
			mutate:  func(p *ListParams) { p.Year = "2021" },
			wantIDs: []string{"CVE-2021-2222", "CVE-2021-3333"},
		},
		{
			name:    "cve id and year narrow together",
			mutate:  func(p *ListParams) { p.CveID = "3333"; p.Year = "2021" },
			wantIDs: []string{"CVE-2021-3333"},
		},
		{
			name:    "cve id and year with no overlap",
			mutate:  func(p *ListParams) { p.CveID = "1111"; p.Year = "2021" },
			wantIDs: []string{},
		},
		{
			name:    "last modified days",
			mutate:  func(p *ListParams) { d := 30; p.LastModifiedDays = &d },
			wantIDs: []string{"CVE-2019-1111"},
		},
		{
			name:    "ascending by id",
			mutate:  func(p *ListParams) { p.SortField = "cve.id"; p.SortOrder = 1 },
			wantIDs: []string{"CVE-2019-1111", "CVE-2021-2222", "CVE-2021-3333"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := defaultParams()
			tt.mutate(&params)

			result, err := svc.List(context.Background(), params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, lo.Map(result.CVEs, func(s model.CVESummary, _ int) string { return s.CveID }))
			assert.Equal(t, len(tt.wantIDs), result.TotalCount)
		})
	}
}

func TestListPagination(t *testing.T) {
	store := database.NewMemoryCVEStore()
	for i := 1; i <= 25; i++ {
		seed(t, store, fmt.Sprintf(`{"cve": {"id": "CVE-2023-%04d", "published": "2023-01-%02dT00:00:00.000",
			"lastModified": "2023-02-01T00:00:00.000"}}`, i, i))
	}
	svc := NewCVEQueryService(store)

	params := defaultParams()
	params.Page = 3
	result, err := svc.List(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 25, result.TotalCount)
	assert.Equal(t, 3, result.TotalPages)
	assert.Equal(t, 3, result.Page)
	assert.Equal(t, 10, result.ResultsPerPage)
	assert.Len(t, result.CVEs, 5)

	params.Page = 0
	result, err = svc.List(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, "CVE-2023-0025", result.CVEs[0].CveID)

	params.Page = 9
	result, err = svc.List(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, result.CVEs)
	assert.Equal(t, 25, result.TotalCount)

	// largest page whose offset still fits in an int
	params.Page = math.MaxInt / params.ResultsPerPage
	result, err = svc.List(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, result.CVEs)
	assert.Equal(t, math.MaxInt/params.ResultsPerPage, result.Page)
}

func TestListEmptyStore(t *testing.T) {
	svc := NewCVEQueryService(database.NewMemoryCVEStore())
	result, err := svc.List(context.Background(), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalCount)
	assert.Equal(t, 0, result.TotalPages)
	assert.Empty(t, result.CVEs)
}

func TestListInvalidParams(t *testing.T) {
	svc := newService(t)

	tests := []struct {
		name   string
		mutate func(p *ListParams)
	}{
		{name: "zero page size", mutate: func(p *ListParams) { p.ResultsPerPage = 0 }},
		{name: "page size above cap", mutate: func(p *ListParams) { p.ResultsPerPage = MaxResultsPerPage + 1 }},
		{name: "page overflows the offset", mutate: func(p *ListParams) { p.Page = math.MaxInt/DefaultResultsPerPage + 1 }},
		{name: "page overflows with large page size", mutate: func(p *ListParams) { p.Page = math.MaxInt / 1000; p.ResultsPerPage = 2000 }},
		{name: "short year", mutate: func(p *ListParams) { p.Year = "21" }},
		{name: "bad sort order", mutate: func(p *ListParams) { p.SortOrder = 0 }},
		{name: "negative days", mutate: func(p *ListParams) { d := -1; p.LastModifiedDays = &d }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := defaultParams()
			tt.mutate(&params)
			_, err := svc.List(context.Background(), params)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestParseListParams(t *testing.T) {
	params, err := ParseListParams(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 1, params.Page)
	assert.Equal(t, DefaultResultsPerPage, params.ResultsPerPage)
	assert.Equal(t, -1, params.SortOrder)
	assert.Nil(t, params.MinScore)
	assert.Nil(t, params.LastModifiedDays)

	params, err = ParseListParams(map[string]string{
		"page":               "2",
		"results_per_page":   "50",
		"cve_id":             " CVE-2021 ",
		"year":               "2021",
		"min_score":          "7.5",
		"max_score":          "9",
		"last_modified_days": "7",
		"sort_field":         "lastModified",
		"sort_order":         "1",
	})
	require.NoError(t, err)
	assert.Equal(t, ListParams{
		Page:             2,
		ResultsPerPage:   50,
		CveID:            "CVE-2021",
		Year:             "2021",
		MinScore:         lo.ToPtr(7.5),
		MaxScore:         lo.ToPtr(9.0),
		LastModifiedDays: lo.ToPtr(7),
		SortField:        "lastModified",
		SortOrder:        1,
	}, params)

	for _, key := range []string{"page", "results_per_page", "min_score", "max_score", "last_modified_days", "sort_order"} {
		_, err := ParseListParams(map[string]string{key: "abc"})
		assert.ErrorIs(t, err, ErrInvalidParams, key)
	}
}

func TestGetByID(t *testing.T) {
	svc := newService(t)

	v, err := svc.GetByID(context.Background(), " CVE-2021-2222 ")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2021-2222", v.CVE.ID)

	_, err = svc.GetByID(context.Background(), "CVE-2000-0000")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestOverview(t *testing.T) {
	overview, err := NewCVEQueryService(database.NewMemoryCVEStore()).Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Overview{}, overview)

	overview, err = newService(t).Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Overview{TotalCVEs: 3, Watermark: "2024-02-20T00:00:00.000"}, overview)
}

func TestSeverityDistribution(t *testing.T) {
	dist, err := newService(t).SeverityDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SeverityDistribution{Critical: 1, High: 1, Unscored: 1}, dist)
}
