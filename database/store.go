package database

import (
	"context"
	"errors"
	"strings"

	"github.com/ortelius/cvefeed-backend/model"
)

// ErrNotFound is returned when no CVE document matches the lookup
var ErrNotFound = errors.New("cve not found")

// UpsertResult describes what an Upsert did with the incoming record
type UpsertResult string

const (
	// UpsertInserted means no document existed for the id
	UpsertInserted UpsertResult = "inserted"
	// UpsertReplaced means an older document was replaced in full
	UpsertReplaced UpsertResult = "replaced"
	// UpsertSkipped means the stored document was as new or newer than the incoming record
	UpsertSkipped UpsertResult = "skipped"
)

// CVEStore is the document interface over NVD vulnerability records keyed by CVE id
type CVEStore interface {
	Upsert(ctx context.Context, v model.Vulnerability) (UpsertResult, error)
	FindByID(ctx context.Context, id string) (*model.Vulnerability, error)
	FindNewestByModifiedDate(ctx context.Context) (*model.Vulnerability, error)
	Query(ctx context.Context, filter CVEFilter, opts QueryOptions) ([]model.Vulnerability, int, error)
	Count(ctx context.Context, filter CVEFilter) (int, error)
	SeverityCounts(ctx context.Context) (map[string]int, error)
}

// SeverityUnscored buckets records that carry no CVSS score in SeverityCounts
const SeverityUnscored = "UNSCORED"

// CVEFilter holds the optional list predicates; set fields are ANDed together
type CVEFilter struct {
	IDContains    string   // case-insensitive substring of cve.id
	Year          string   // four digit year component of a CVE-YYYY-NNNN id
	MinScore      *float64 // inclusive, matched against any v2 or v3 score
	MaxScore      *float64 // inclusive, matched against any v2 or v3 score
	ModifiedSince string   // cve.lastModified >= ModifiedSince, NVD formatted
}

// QueryOptions controls ordering and paging of a Query
type QueryOptions struct {
	SortField  string
	Descending bool
	Skip       int
	Limit      int
}

// sortable fields, keyed by the attribute name under "cve"
var sortFields = map[string]bool{
	"published":        true,
	"lastModified":     true,
	"id":               true,
	"vulnStatus":       true,
	"sourceIdentifier": true,
}

// DefaultSortField is used when the caller does not pick a valid field
const DefaultSortField = "published"

// NormalizeSortField maps a caller supplied field (optionally "cve." prefixed) to a
// whitelisted attribute name, falling back to DefaultSortField
func NormalizeSortField(field string) string {
	field = strings.TrimPrefix(strings.TrimSpace(field), "cve.")
	if sortFields[field] {
		return field
	}
	return DefaultSortField
}

// sortValue extracts the sort attribute from a typed record
func sortValue(c model.CVE, field string) string {
	switch field {
	case "lastModified":
		return c.LastModified
	case "id":
		return c.ID
	case "vulnStatus":
		return c.VulnStatus
	case "sourceIdentifier":
		return c.SourceIdentifier
	default:
		return c.Published
	}
}
