package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
)

// ArangoCVEStore implements CVEStore on the ArangoDB cve collection.
// Documents are keyed by the sanitized CVE id so the natural key and _key coincide.
type ArangoCVEStore struct {
	db DBConnection
}

// NewArangoCVEStore wraps an initialized connection
func NewArangoCVEStore(db DBConnection) *ArangoCVEStore {
	return &ArangoCVEStore{db: db}
}

// Ensure compile-time interface check
var _ CVEStore = (*ArangoCVEStore)(nil)

// Upsert inserts the record, or replaces the stored one when the incoming
// lastModified is strictly newer. Replaying the same or an older record is a no-op.
func (s *ArangoCVEStore) Upsert(ctx context.Context, v model.Vulnerability) (UpsertResult, error) {
	key := util.SanitizeKey(v.CVE.ID)
	if key == "" {
		return "", fmt.Errorf("cannot upsert record without cve id")
	}

	query := `
		LET existing = DOCUMENT(@@collection, @key)
		FILTER existing == null
		    OR existing.cve.lastModified == null
		    OR @lastModified > existing.cve.lastModified
		UPSERT { _key: @key }
		INSERT MERGE(@doc, { _key: @key })
		REPLACE MERGE(@doc, { _key: @key })
		IN @@collection
		RETURN { inserted: IS_NULL(OLD) }
	`

	doc := v.Document()
	for k := range doc {
		if strings.HasPrefix(k, "_") {
			delete(doc, k)
		}
	}

	bindVars := map[string]interface{}{
		"@collection":  CVECollection,
		"key":          key,
		"lastModified": v.CVE.LastModified,
		"doc":          doc,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return "", fmt.Errorf("failed to upsert %s: %w", v.CVE.ID, err)
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return UpsertSkipped, nil
	}

	var result struct {
		Inserted bool `json:"inserted"`
	}
	if _, err := cursor.ReadDocument(ctx, &result); err != nil {
		return "", fmt.Errorf("failed to read upsert result for %s: %w", v.CVE.ID, err)
	}
	if result.Inserted {
		return UpsertInserted, nil
	}
	return UpsertReplaced, nil
}

// FindByID returns the stored document for id without internal attributes
func (s *ArangoCVEStore) FindByID(ctx context.Context, id string) (*model.Vulnerability, error) {
	query := `
		FOR c IN @@collection
			FILTER c.cve.id == @id
			LIMIT 1
			RETURN UNSET(c, "_key", "_id", "_rev")
	`
	bindVars := map[string]interface{}{
		"@collection": CVECollection,
		"id":          id,
	}
	return s.readOne(ctx, query, bindVars)
}

// FindNewestByModifiedDate returns the record with the greatest cve.lastModified
func (s *ArangoCVEStore) FindNewestByModifiedDate(ctx context.Context) (*model.Vulnerability, error) {
	query := `
		FOR c IN @@collection
			FILTER c.cve.lastModified != null
			SORT c.cve.lastModified DESC
			LIMIT 1
			RETURN UNSET(c, "_key", "_id", "_rev")
	`
	bindVars := map[string]interface{}{
		"@collection": CVECollection,
	}
	return s.readOne(ctx, query, bindVars)
}

// Count returns the number of documents matching filter
func (s *ArangoCVEStore) Count(ctx context.Context, filter CVEFilter) (int, error) {
	filterAQL, bindVars := buildFilterAQL(filter)
	bindVars["@collection"] = CVECollection

	query := `
		FOR c IN @@collection
			` + filterAQL + `
			COLLECT WITH COUNT INTO total
			RETURN total
	`

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return 0, fmt.Errorf("failed to count cves: %w", err)
	}
	defer cursor.Close()

	total := 0
	if cursor.HasMore() {
		if _, err := cursor.ReadDocument(ctx, &total); err != nil {
			return 0, fmt.Errorf("failed to read cve count: %w", err)
		}
	}
	return total, nil
}

// Query returns one sorted page of matching documents together with the total match count
func (s *ArangoCVEStore) Query(ctx context.Context, filter CVEFilter, opts QueryOptions) ([]model.Vulnerability, int, error) {
	total, err := s.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	filterAQL, bindVars := buildFilterAQL(filter)
	bindVars["@collection"] = CVECollection
	bindVars["skip"] = opts.Skip
	bindVars["limit"] = opts.Limit

	query := `
		FOR c IN @@collection
			` + filterAQL + `
			` + sortAQL(opts) + `
			LIMIT @skip, @limit
			RETURN UNSET(c, "_key", "_id", "_rev")
	`

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query cves: %w", err)
	}
	defer cursor.Close()

	var results []model.Vulnerability
	for cursor.HasMore() {
		var v model.Vulnerability
		if _, err := cursor.ReadDocument(ctx, &v); err != nil {
			return nil, 0, fmt.Errorf("failed to read cve document: %w", err)
		}
		results = append(results, v)
	}

	return results, total, nil
}

// SeverityCounts buckets every document by the severity of its primary score
// (first v3.1, v3.0, v3, then v2 entry)
func (s *ArangoCVEStore) SeverityCounts(ctx context.Context) (map[string]int, error) {
	query := `
		FOR c IN @@collection
			LET score = FIRST(FLATTEN([
				c.cve.metrics.cvssMetricV31[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV30[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV3[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV2[*].cvssData.baseScore
			]))
			LET severity = score == null ? @unscored
				: score == 0 ? "NONE"
				: score < 4 ? "LOW"
				: score < 7 ? "MEDIUM"
				: score < 9 ? "HIGH"
				: "CRITICAL"
			COLLECT bucket = severity WITH COUNT INTO n
			RETURN { severity: bucket, count: n }
	`
	bindVars := map[string]interface{}{
		"@collection": CVECollection,
		"unscored":    SeverityUnscored,
	}

	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cve severities: %w", err)
	}
	defer cursor.Close()

	counts := map[string]int{}
	for cursor.HasMore() {
		var row struct {
			Severity string `json:"severity"`
			Count    int    `json:"count"`
		}
		if _, err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to read severity bucket: %w", err)
		}
		counts[row.Severity] = row.Count
	}
	return counts, nil
}

func (s *ArangoCVEStore) readOne(ctx context.Context, query string, bindVars map[string]interface{}) (*model.Vulnerability, error) {
	cursor, err := s.db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return nil, ErrNotFound
	}

	var v model.Vulnerability
	if _, err := cursor.ReadDocument(ctx, &v); err != nil {
		return nil, err
	}
	v.StripInternalFields()
	return &v, nil
}

// scoreExpr flattens every v2 and v3 base score of document c into one array
const scoreExpr = `FLATTEN([
				c.cve.metrics.cvssMetricV2[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV3[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV30[*].cvssData.baseScore,
				c.cve.metrics.cvssMetricV31[*].cvssData.baseScore
			])`

// buildFilterAQL renders the FILTER clauses and bind variables for a CVEFilter
func buildFilterAQL(filter CVEFilter) (string, map[string]interface{}) {
	var clauses []string
	bindVars := map[string]interface{}{}

	if filter.IDContains != "" {
		clauses = append(clauses, "FILTER LIKE(c.cve.id, @idPattern, true)")
		bindVars["idPattern"] = "%" + escapeLike(filter.IDContains) + "%"
	}

	if filter.Year != "" {
		clauses = append(clauses, "FILTER LIKE(c.cve.id, @yearPattern, true)")
		bindVars["yearPattern"] = "CVE-" + escapeLike(filter.Year) + "-%"
	}

	if filter.MinScore != nil || filter.MaxScore != nil {
		cond := []string{"s != null"}
		if filter.MinScore != nil {
			cond = append(cond, "s >= @minScore")
			bindVars["minScore"] = *filter.MinScore
		}
		if filter.MaxScore != nil {
			cond = append(cond, "s <= @maxScore")
			bindVars["maxScore"] = *filter.MaxScore
		}
		clauses = append(clauses, fmt.Sprintf(
			"FILTER LENGTH(FOR s IN %s FILTER %s LIMIT 1 RETURN s) > 0",
			scoreExpr, strings.Join(cond, " AND ")))
	}

	if filter.ModifiedSince != "" {
		clauses = append(clauses, "FILTER c.cve.lastModified >= @modifiedSince")
		bindVars["modifiedSince"] = filter.ModifiedSince
	}

	return strings.Join(clauses, "\n\t\t\t"), bindVars
}

// sortAQL renders the SORT clause. The attribute comes from the whitelist, never from raw
// caller input; cve.id breaks ties so LIMIT pages are stable.
func sortAQL(opts QueryOptions) string {
	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}
	field := NormalizeSortField(opts.SortField)
	if field == "id" {
		return "SORT c.cve.id " + direction
	}
	return "SORT c.cve." + field + " " + direction + ", c.cve.id " + direction
}

// escapeLike escapes the LIKE wildcards so caller input matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
