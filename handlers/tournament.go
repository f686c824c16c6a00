package handlers

import (
	"chum-ledger/middleware"
	"chum-ledger/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(app *fiber.App, tournaments *services.TournamentService, adminKey string) {
	// 🔓 Public routes
	app.Post("/tournament/register", tournaments.RegisterPlayer)
	app.Get("/tournament", tournaments.TournamentStatus)

	// 🔒 Admin-only routes
	admin := app.Group("/admin", middleware.AdminAuthMiddleware(adminKey))
	admin.Post("/tournament/start", tournaments.StartTournament)
	admin.Post("/tournament/stop", tournaments.StopTournament)
	admin.Get("/tournament/status", tournaments.TournamentStatus)
	admin.Get("/tournament/history", tournaments.TournamentHistory)
}
