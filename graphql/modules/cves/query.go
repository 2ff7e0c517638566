package cves

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/services"
	"github.com/ortelius/cvefeed-backend/model"
	"github.com/ortelius/cvefeed-backend/util"
	"github.com/samber/lo"
)

// GetQueryFields returns the CVE queries to be mounted in the root schema.
func GetQueryFields(svc *services.CVEQueryService) graphql.Fields {
	return graphql.Fields{
		"cves": &graphql.Field{
			Type: CVEPageType,
			Args: graphql.FieldConfigArgument{
				"page":               &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 1},
				"results_per_page":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: services.DefaultResultsPerPage},
				"cve_id":             &graphql.ArgumentConfig{Type: graphql.String},
				"year":               &graphql.ArgumentConfig{Type: graphql.String},
				"min_score":          &graphql.ArgumentConfig{Type: graphql.Float},
				"max_score":          &graphql.ArgumentConfig{Type: graphql.Float},
				"last_modified_days": &graphql.ArgumentConfig{Type: graphql.Int},
				"sort_field":         &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: database.DefaultSortField},
				"sort_order":         &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: -1},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveCVEs(contextOf(p), svc, listParamsFromArgs(p.Args))
			},
		},
		"cve": &graphql.Field{
			Type: CVEType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				cve, err := ResolveCVE(contextOf(p), svc, p.Args["id"].(string))
				if err != nil || cve == nil {
					return nil, err
				}
				return cve, nil
			},
		},
	}
}

// ResolveCVEs returns one page of CVEs shaped for CVEPageType
func ResolveCVEs(ctx context.Context, svc *services.CVEQueryService, params services.ListParams) (map[string]interface{}, error) {
	result, err := svc.List(ctx, params)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"cves":             lo.Map(result.CVEs, func(s model.CVESummary, _ int) map[string]interface{} { return summaryFields(s) }),
		"total_count":      result.TotalCount,
		"page":             result.Page,
		"results_per_page": result.ResultsPerPage,
		"total_pages":      result.TotalPages,
	}, nil
}

// ResolveCVE returns a single CVE with its full document, or nil when unknown
func ResolveCVE(ctx context.Context, svc *services.CVEQueryService, id string) (map[string]interface{}, error) {
	v, err := svc.GetByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fields := summaryFields(util.Summarize(*v))
	if doc, err := json.Marshal(v); err == nil {
		fields["document"] = string(doc)
	}
	return fields, nil
}

func summaryFields(s model.CVESummary) map[string]interface{} {
	fields := map[string]interface{}{
		"cve_id":             s.CveID,
		"identifier":         s.Identifier,
		"published_date":     s.PublishedDate,
		"last_modified_date": s.LastModifiedDate,
		"status":             s.Status,
		"description":        s.Description,
		"cvss_score":         nil,
		"severity_rating":    nil,
	}
	if s.CvssScore != nil {
		fields["cvss_score"] = *s.CvssScore
		fields["severity_rating"] = util.GetSeverityRating(*s.CvssScore)
	}
	return fields
}

func listParamsFromArgs(args map[string]interface{}) services.ListParams {
	params := services.ListParams{
		Page:           intArg(args, "page", 1),
		ResultsPerPage: intArg(args, "results_per_page", services.DefaultResultsPerPage),
		SortOrder:      intArg(args, "sort_order", -1),
	}
	params.CveID, _ = args["cve_id"].(string)
	params.Year, _ = args["year"].(string)
	params.SortField, _ = args["sort_field"].(string)
	if v, ok := args["min_score"].(float64); ok {
		params.MinScore = lo.ToPtr(v)
	}
	if v, ok := args["max_score"].(float64); ok {
		params.MaxScore = lo.ToPtr(v)
	}
	if v, ok := args["last_modified_days"].(int); ok {
		params.LastModifiedDays = lo.ToPtr(v)
	}
	return params
}

func intArg(args map[string]interface{}, name string, def int) int {
	if v, ok := args[name].(int); ok {
		return v
	}
	return def
}

func contextOf(p graphql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}
