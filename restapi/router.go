// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/cvefeed-backend/internal/cvesync"
	"github.com/ortelius/cvefeed-backend/internal/services"
	"github.com/ortelius/cvefeed-backend/restapi/modules/cves"
	"github.com/ortelius/cvefeed-backend/restapi/modules/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the routes are bound to
type Dependencies struct {
	Query    *services.CVEQueryService
	Syncer   *cvesync.Synchronizer
	Schema   graphql.Schema
	Gatherer prometheus.Gatherer
}

// SetupRoutes configures all REST API routes, the GraphQL endpoint and /metrics.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	api := app.Group("/api")

	// CVE Routes
	api.Get("/cves", cves.ListCVEs(deps.Query))
	api.Get("/cves/:id", cves.GetCVE(deps.Query))
	api.Post("/cves/:id", cves.PostCVE(deps.Query))

	// GraphQL Route
	api.Post("/graphql", GraphQLHandler(deps.Schema))

	// Sync Status
	if deps.Syncer != nil {
		api.Get("/sync/status", sync.GetSyncStatus(deps.Syncer))
	}

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
}
