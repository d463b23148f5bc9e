package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-booking/internal/config"
	"github.com/iliyamo/event-booking/internal/database"
	"github.com/iliyamo/event-booking/internal/gateway"
	"github.com/iliyamo/event-booking/internal/handler"
	"github.com/iliyamo/event-booking/internal/queue"
	"github.com/iliyamo/event-booking/internal/repository"
	"github.com/iliyamo/event-booking/internal/router"
	"github.com/iliyamo/event-booking/internal/service"
	"github.com/iliyamo/event-booking/internal/worker"
)

func main() {
	// .env is optional; real deployments export the variables.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	sessionRepo := repository.NewSessionRepo(db)
	regRepo := repository.NewRegistrationRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	refundRepo := repository.NewRefundRepo(db)

	gw := gateway.NewClient(gateway.Config{
		PID:       cfg.ZPayPID,
		Key:       cfg.ZPayKey,
		BaseURL:   cfg.ZPayBaseURL,
		NotifyURL: cfg.NotifyURL,
		ReturnURL: cfg.ReturnURL,
		SiteName:  cfg.SiteName,
	}, cfg.GatewayTimeout)

	pub := queue.NewPublisher()

	booking := service.NewBookingService(db, sessionRepo, regRepo, paymentRepo, gw)
	settlement := service.NewSettlementService(db, paymentRepo, regRepo, gw, pub)
	refunds := service.NewRefundService(db, refundRepo, regRepo, paymentRepo, sessionRepo, gw, pub)

	h := router.Handlers{
		Booking: handler.NewBookingHandler(booking, regRepo),
		Payment: handler.NewPaymentHandler(settlement),
		Refund:  handler.NewRefundHandler(refunds, refundRepo),
		Session: handler.NewSessionHandler(sessionRepo),
	}

	// Redis backs the rate limiter; nil disables it and the limiter
	// becomes a pass-through.
	rlCfg := config.LoadRateLimitConfig()
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, rate limiting disabled")
	}

	e := echo.New()
	e.HideBanner = true
	router.Register(e, h, cfg.JWTSecret, rlCfg, rdb)

	// Background loops: the hold sweeper and the settlement audit
	// consumer.  Both run for the life of the process.
	sweeper := worker.NewSweeper(booking, cfg.SweepInterval)
	go sweeper.Run(context.Background())
	go func() {
		if err := queue.StartSettlementConsumer(); err != nil {
			log.Printf("settlement consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
