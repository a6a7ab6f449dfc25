package main

import (
	"fmt"
	"log"
	"os"

	"stayhub-sync-server/routes"
	"stayhub-sync-server/storage"
	"stayhub-sync-server/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
)

func main() {
	// Only load .env in development
	if os.Getenv("RENDER") == "" {
		godotenv.Load()
	}

	storage.InitializeDB()
	storage.InitializeRedis()

	app := iris.New()
	app.Validator = validator.New()

	// CORS for the operations dashboard
	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	app.Use(iris.Compression)

	accessTokenVerifier := utils.NewAccessTokenVerifier()
	accessTokenVerifier.WithDefaultBlocklist()
	accessTokenVerifierMiddleware := accessTokenVerifier.Verify(func() interface{} {
		return new(utils.AccessToken)
	})

	// Health check endpoint - CRITICAL for Render
	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"status": "ok"})
	})

	// Inbound channel webhooks. Authenticated by HMAC signature per
	// organization, never by JWT.
	app.Post("/webhook/{organizationId}", routes.ReceiveWebhook)

	webhooks := app.Party("/api/webhooks", accessTokenVerifierMiddleware, utils.AdminOnlyMiddleware)
	{
		webhooks.Post("/process/{organizationId}", routes.ProcessWebhooks)
		webhooks.Get("/diagnostics/{organizationId}", routes.WebhookDiagnostics)
		webhooks.Post("/backfill/guests/{organizationId}", routes.BackfillReservationGuests)
	}

	reconciliation := app.Party("/api/reconciliation", accessTokenVerifierMiddleware, utils.AdminOnlyMiddleware)
	{
		reconciliation.Post("/run/{organizationId}", routes.TriggerReconciliation)
		reconciliation.Post("/missing/{organizationId}", routes.FindMissingReservations)
	}

	channel := app.Party("/api/channel", accessTokenVerifierMiddleware, utils.AdminOnlyMiddleware)
	{
		channel.Put("/config/{organizationId}", routes.SaveChannelConfig)
		channel.Get("/config/{organizationId}", routes.GetChannelConfig)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}
	addr := "0.0.0.0:" + port

	fmt.Printf("🚀 Server starting on %s\n", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("❌ Server failed: %v", err)
	}
}
