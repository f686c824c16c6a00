package handlers

import (
	"chum-ledger/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPlayerRoutes(app *fiber.App, rewards *services.RewardService, claims *services.ClaimService) {
	app.Post("/players/verify", rewards.VerifyPlayer)
	app.Post("/scores", rewards.RecordScore)
	app.Get("/players/:wallet", rewards.GetPlayer)
	app.Get("/leaderboard", rewards.Leaderboard)

	app.Post("/claims/build", claims.BuildClaim)
	app.Post("/claims/confirm", claims.ConfirmClaim)
}
