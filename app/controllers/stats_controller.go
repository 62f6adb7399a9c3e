package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratebox/cratebox/internal/pkg/statistics"
)

// HandleGetStats returns public service totals. Values come from the
// statistics cache, so they may lag the database by a few minutes.
func HandleGetStats(c *fiber.Ctx) error {
	return c.JSON(statistics.GetStatistics())
}
