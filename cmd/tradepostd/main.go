package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"tradepost"
	"tradepost/database"
	"tradepost/database/repositories"
	"tradepost/logger"
	"tradepost/services"
	"tradepost/trade"
	"tradepost/web/handlers"
	"tradepost/web/middleware"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := "config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	customHandler := logger.NewHandler("TradePost")
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting TradePost API",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.String("type", "sys"))

	cfg, err := tradepost.LoadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Re-install the handler with the configured level now that it is known.
	slog.SetDefault(slog.New(logger.NewHandlerWithOptions("TradePost", cfg.Log.Level, cfg.Log.AddSource)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("Connecting to database...")
	db, err := database.New(ctx, database.DBConfig{
		Host:         cfg.DB.Host,
		Port:         cfg.DB.Port,
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Database:     cfg.DB.Database,
		PoolSize:     cfg.DB.PoolSize,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxLifetime:  cfg.DB.MaxLifetime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Database ready")

	trades := repositories.NewTradeRepository(db.BunDB())
	stacks := repositories.NewStackRepository(db.BunDB())
	currencies := repositories.NewCurrencyRepository(db.BunDB())
	users := repositories.NewUserRepository(db.BunDB())
	characters := repositories.NewCharacterRepository(db.BunDB())
	comments := repositories.NewCommentRepository(db.BunDB())

	engine := trade.NewManager(db.BunDB(), trades, stacks, currencies, users, characters)
	directory := services.NewDirectory(users)

	app := fiber.New(fiber.Config{
		AppName:      "TradePost API",
		ServerHeader: "TradePost",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	app.Use(recover.New())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Web.AllowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.LoggingMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok", "version": version})
	})

	webApp := &handlers.WebApp{
		Engine:     engine,
		Directory:  directory,
		Trades:     trades,
		Stacks:     stacks,
		Currencies: currencies,
		Users:      users,
		Characters: characters,
		Comments:   comments,
	}
	auth := middleware.NewAuthenticator(users)
	webApp.RegisterRoutes(app, auth)

	address := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	logger.LogSystem("Starting server", slog.String("address", address))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return app.Listen(address)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", slog.String("error", err.Error()))
	}

	db.Close()
	slog.Info("Shutdown complete")
}
