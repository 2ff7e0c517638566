package dashboard

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/cvefeed-backend/internal/services"
)

// GetQueryFields returns the dashboard queries to be mounted in the root schema
func GetQueryFields(svc *services.CVEQueryService) graphql.Fields {
	return graphql.Fields{
		"dashboardOverview": &graphql.Field{
			Type: DashboardOverviewType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveOverview(contextOf(p), svc)
			},
		},
		"dashboardSeverity": &graphql.Field{
			Type: SeverityDistributionType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveSeverityDistribution(contextOf(p), svc)
			},
		},
	}
}

// ResolveOverview handles fetching the high-level dashboard metrics
func ResolveOverview(ctx context.Context, svc *services.CVEQueryService) (map[string]interface{}, error) {
	overview, err := svc.Overview(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"total_cves": overview.TotalCVEs,
		"watermark":  overview.Watermark,
	}, nil
}

// ResolveSeverityDistribution fetches the current breakdown by severity
func ResolveSeverityDistribution(ctx context.Context, svc *services.CVEQueryService) (map[string]interface{}, error) {
	dist, err := svc.SeverityDistribution(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"critical": dist.Critical,
		"high":     dist.High,
		"medium":   dist.Medium,
		"low":      dist.Low,
		"none":     dist.None,
		"unscored": dist.Unscored,
	}, nil
}

func contextOf(p graphql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}
