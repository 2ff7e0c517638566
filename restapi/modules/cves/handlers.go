// Package cves implements the REST API handlers for CVE list and lookup.
package cves

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/cvefeed-backend/database"
	"github.com/ortelius/cvefeed-backend/internal/services"
)

// ListCVEs handles GET /api/cves
func ListCVEs(svc *services.CVEQueryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params, err := services.ParseListParams(c.Queries())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		result, err := svc.List(c.UserContext(), params)
		if err != nil {
			if errors.Is(err, services.ErrInvalidParams) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to query CVEs: " + err.Error(),
			})
		}

		return c.JSON(result)
	}
}

// GetCVE handles GET /api/cves/:id
func GetCVE(svc *services.CVEQueryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return lookup(c, svc)
	}
}

// PostCVE handles POST /api/cves/:id. The body must be a JSON object carrying cve_id;
// the lookup itself uses the path id.
func PostCVE(svc *services.CVEQueryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body map[string]interface{}
		if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
			return invalidRequest(c)
		}
		if _, ok := body["cve_id"]; !ok {
			return invalidRequest(c)
		}

		return lookup(c, svc)
	}
}

func lookup(c *fiber.Ctx, svc *services.CVEQueryService) error {
	cve, err := svc.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "CVE not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch CVE: " + err.Error(),
		})
	}

	return c.JSON(cve)
}

func invalidRequest(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid request, CVE ID missing",
	})
}
