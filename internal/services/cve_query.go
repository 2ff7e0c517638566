// Package services provides internal service implementations for the cvefeed backend.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
	"github.com/samber/lo"
)

const (
	// DefaultResultsPerPage is used when the caller omits results_per_page
	DefaultResultsPerPage = 10
	// MaxResultsPerPage caps a single list page
	MaxResultsPerPage = 2000
)

// ErrInvalidParams wraps every list parameter validation failure
var ErrInvalidParams = errors.New("invalid request parameters")

var yearPattern = regexp.MustCompile(`^\d{4}$`)

// ListParams are the list filters, paging and ordering
type ListParams struct {
	Page             int
	ResultsPerPage   int
	CveID            string
	Year             string
	MinScore         *float64
	MaxScore         *float64
	LastModifiedDays *int
	SortField        string
	SortOrder        int // -1 descending (default), 1 ascending
}

// ListResult is the JSON body of GET /api/cves
type ListResult struct {
	CVEs           []model.CVESummary `json:"cves"`
	TotalCount     int                `json:"total_count"`
	Page           int                `json:"page"`
	ResultsPerPage int                `json:"results_per_page"`
	TotalPages     int                `json:"total_pages"`
}

// CVEQueryService translates list parameters into store queries and projects the results
type CVEQueryService struct {
	store database.CVEStore
	now   func() time.Time
}

// NewCVEQueryService creates a query service over store
func NewCVEQueryService(store database.CVEStore) *CVEQueryService {
	return &CVEQueryService{store: store, now: time.Now}
}

// ParseListParams reads list parameters from raw query string values
func ParseListParams(query map[string]string) (ListParams, error) {
	params := ListParams{
		CveID:     strings.TrimSpace(query["cve_id"]),
		Year:      strings.TrimSpace(query["year"]),
		SortField: query["sort_field"],
		SortOrder: -1,
	}

	var err error
	if params.Page, err = intParam(query, "page", 1); err != nil {
		return params, err
	}
	if params.ResultsPerPage, err = intParam(query, "results_per_page", DefaultResultsPerPage); err != nil {
		return params, err
	}
	if params.SortOrder, err = intParam(query, "sort_order", -1); err != nil {
		return params, err
	}
	if params.MinScore, err = floatParam(query, "min_score"); err != nil {
		return params, err
	}
	if params.MaxScore, err = floatParam(query, "max_score"); err != nil {
		return params, err
	}
	if raw := strings.TrimSpace(query["last_modified_days"]); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return params, fmt.Errorf("%w: last_modified_days must be an integer", ErrInvalidParams)
		}
		params.LastModifiedDays = &days
	}
	return params, nil
}

// List returns one page of CVE summaries. cve_id and year narrow the result together.
func (s *CVEQueryService) List(ctx context.Context, params ListParams) (ListResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.ResultsPerPage < 1 || params.ResultsPerPage > MaxResultsPerPage {
		return ListResult{}, fmt.Errorf("%w: results_per_page must be between 1 and %d", ErrInvalidParams, MaxResultsPerPage)
	}
	if params.Page > math.MaxInt/params.ResultsPerPage {
		return ListResult{}, fmt.Errorf("%w: page is too large", ErrInvalidParams)
	}
	if params.Year != "" && !yearPattern.MatchString(params.Year) {
		return ListResult{}, fmt.Errorf("%w: year must be four digits", ErrInvalidParams)
	}
	if params.SortOrder != 1 && params.SortOrder != -1 {
		return ListResult{}, fmt.Errorf("%w: sort_order must be 1 or -1", ErrInvalidParams)
	}

	filter := database.CVEFilter{
		IDContains: params.CveID,
		Year:       params.Year,
		MinScore:   params.MinScore,
		MaxScore:   params.MaxScore,
	}
	if params.LastModifiedDays != nil {
		if *params.LastModifiedDays < 0 {
			return ListResult{}, fmt.Errorf("%w: last_modified_days must not be negative", ErrInvalidParams)
		}
		threshold := s.now().AddDate(0, 0, -*params.LastModifiedDays)
		filter.ModifiedSince = util.FormatNVDTime(threshold)
	}

	records, total, err := s.store.Query(ctx, filter, database.QueryOptions{
		SortField:  params.SortField,
		Descending: params.SortOrder == -1,
		Skip:       (params.Page - 1) * params.ResultsPerPage,
		Limit:      params.ResultsPerPage,
	})
	if err != nil {
		return ListResult{}, err
	}

	return ListResult{
		CVEs:           lo.Map(records, func(v model.Vulnerability, _ int) model.CVESummary { return util.Summarize(v) }),
		TotalCount:     total,
		Page:           params.Page,
		ResultsPerPage: params.ResultsPerPage,
		TotalPages:     (total + params.ResultsPerPage - 1) / params.ResultsPerPage,
	}, nil
}

// GetByID returns the full stored document; database.ErrNotFound when absent
func (s *CVEQueryService) GetByID(ctx context.Context, id string) (*model.Vulnerability, error) {
	return s.store.FindByID(ctx, strings.TrimSpace(id))
}

func intParam(query map[string]string, name string, def int) (int, error) {
	raw := strings.TrimSpace(query[name])
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParams, name)
	}
	return v, nil
}

func floatParam(query map[string]string, name string) (*float64, error) {
	raw := strings.TrimSpace(query[name])
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidParams, name)
	}
	return &v, nil
}
