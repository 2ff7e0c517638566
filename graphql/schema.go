// Package graphql assembles the root GraphQL schema from the module query fields.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/cvefeed-backend/graphql/modules/cves"
	"github.com/ortelius/cvefeed-backend/graphql/modules/dashboard"
	"github.com/ortelius/cvefeed-backend/internal/services"
)

// CreateSchema builds the schema served at /api/graphql
func CreateSchema(svc *services.CVEQueryService) (graphql.Schema, error) {
	fields := graphql.Fields{}
	for name, field := range cves.GetQueryFields(svc) {
		fields[name] = field
	}
	for name, field := range dashboard.GetQueryFields(svc) {
		fields[name] = field
	}

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: fields,
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
