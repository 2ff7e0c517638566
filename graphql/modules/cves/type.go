// Package cves defines the GraphQL types and queries for NVD CVE records.
package cves

import (
	"github.com/graphql-go/graphql"
)

// CVEType is the list projection of a CVE plus its severity rating
var CVEType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CVE",
	Fields: graphql.Fields{
		"cve_id":             &graphql.Field{Type: graphql.String},
		"identifier":         &graphql.Field{Type: graphql.String},
		"published_date":     &graphql.Field{Type: graphql.String},
		"last_modified_date": &graphql.Field{Type: graphql.String},
		"status":             &graphql.Field{Type: graphql.String},
		"cvss_score":         &graphql.Field{Type: graphql.Float},
		"severity_rating":    &graphql.Field{Type: graphql.String},
		"description":        &graphql.Field{Type: graphql.String},
		// Full upstream document, JSON encoded; only populated by the cve(id) query
		"document": &graphql.Field{Type: graphql.String},
	},
})

// CVEPageType wraps one page of CVEs with paging totals
var CVEPageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CVEPage",
	Fields: graphql.Fields{
		"cves":             &graphql.Field{Type: graphql.NewList(CVEType)},
		"total_count":      &graphql.Field{Type: graphql.Int},
		"page":             &graphql.Field{Type: graphql.Int},
		"results_per_page": &graphql.Field{Type: graphql.Int},
		"total_pages":      &graphql.Field{Type: graphql.Int},
	},
})
