package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"dukapos/internal/config"
	"dukapos/internal/http/handlers"
	applog "dukapos/internal/log"
	"dukapos/internal/metrics"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
	"dukapos/internal/stock"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// ---------- Stock ledger ----------
	ledger := stock.NewLedger(stock.WithReservationTTL(cfg.ReservationTTL))
	defer ledger.Close()
	rows, err := repos.NewProductRepo(db).ListStock(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range rows {
		ledger.SetStock(r.ProductID, r.Qty)
	}
	log.Printf("[stock] hydrated %d products", len(rows))

	// ---------- Payments ----------
	m := metrics.New()
	txRepo := repos.NewMpesaRepo(db)
	payments := mpesa.NewClient(mpesa.NewDarajaGateway(cfg.Mpesa),
		mpesa.WithPollInterval(cfg.Mpesa.PollInterval),
		mpesa.WithObserver(func(t mpesa.Transition) {
			if t.Late {
				m.MpesaIntents.WithLabelValues("LATE_" + string(t.Update.Status)).Inc()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := txRepo.Record(ctx, t); err != nil {
				applog.ErrorEvent("mpesa.transaction.save.fail", err, map[string]any{"request_id": t.Intent.RequestID})
			}
		}),
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
	})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// Daraja delivers callbacks in bursts from a few addresses
			return c.Path() == "/api/v1/mpesa/callback" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "RATE_LIMITED", "message": "rate limit exceeded, retry soon"})
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	deps := handlers.NewDeps(db, cfg, ledger, payments, m)
	handlers.Register(app, deps)
	app.Use(handlers.NotFound)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Printf("[server] shutting down")
		if err := app.ShutdownWithTimeout(cfg.Mpesa.ConfirmTimeout + 10*time.Second); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("[server] %v", err)
	}
}
