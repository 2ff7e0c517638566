// Package sync implements the REST API handlers for sync status reporting.
package sync

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/cvefeed-backend/internal/cvesync"
)

// GetSyncStatus returns the state of the initial and incremental sync flows
func GetSyncStatus(syncer *cvesync.Synchronizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"flows": syncer.Status().Snapshot(),
		})
	}
}
