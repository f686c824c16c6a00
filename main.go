package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chum-ledger/config"
	"chum-ledger/handlers"
	"chum-ledger/models"
	"chum-ledger/services"
	"chum-ledger/utils"
	"chum-ledger/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON only, no uploads
	})

	// CORS for the game client
	allowedOriginsList := strings.Split(cfg.AllowedOrigins, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, X-Admin-Key, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	if err := db.AutoMigrate(
		&models.GameSession{},
		&models.TournamentArchive{},
	); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	docStore, err := utils.NewR2Store(cfg.CloudflareAccountID, cfg.R2AccessKeyID, cfg.R2AccessKeySecret, cfg.R2BucketName)
	if err != nil {
		log.Fatal("failed to initialize R2 client: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain := services.NewChainClient(cfg.RPCURL, cfg.VaultServiceURL, cfg.ServiceToken, cfg.TokenMint, cfg.VaultWallet)

	ledgerStore := services.NewLedgerStore(docStore)
	persistWorker := workers.NewPersistWorker(docStore, 256)
	ledgerStore.SetAsyncPersist(persistWorker.Enqueue)
	go persistWorker.Start(ctx)

	rewardService := services.NewRewardService(ledgerStore, db, chain, cfg.PointsPerChum, cfg.MinPointsPerEarn, cfg.MinHoldThreshold)
	tournamentService := services.NewTournamentService(db, chain, rewardService, cfg.MinHoldThreshold)
	rewardService.Tournaments = tournamentService
	claimService := services.NewClaimService(ledgerStore, rewardService, chain, chain, cfg.MinHoldThreshold)

	loaded, err := ledgerStore.BulkLoad(ctx)
	if err != nil {
		log.Fatal("failed to bulk-load player records: ", err)
	}
	log.Printf("📥 Loaded %d player record(s) into cache", loaded)

	services.StartMaintenanceScheduler(ledgerStore, tournamentService)

	handlers.SetupPlayerRoutes(app, rewardService, claimService)
	handlers.SetupTournamentRoutes(app, tournamentService, cfg.AdminKey)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Reward rate: %d points per CHUM, min hold %d", cfg.PointsPerChum, cfg.MinHoldThreshold)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if n := ledgerStore.FlushDirty(context.Background()); n > 0 {
		log.Printf("Flushed %d dirty record(s) on shutdown", n)
	}
}
