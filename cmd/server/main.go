// Command server runs the day-claim calendar.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/day-claim-calendar/internal/app"
	"github.com/iliyamo/day-claim-calendar/internal/calendar"
	"github.com/iliyamo/day-claim-calendar/internal/config"
	"github.com/iliyamo/day-claim-calendar/internal/database"
	"github.com/iliyamo/day-claim-calendar/internal/export"
	"github.com/iliyamo/day-claim-calendar/internal/handler"
	"github.com/iliyamo/day-claim-calendar/internal/queue"
	"github.com/iliyamo/day-claim-calendar/internal/repository"
	"github.com/iliyamo/day-claim-calendar/internal/router"
	"github.com/iliyamo/day-claim-calendar/internal/session"
	"github.com/iliyamo/day-claim-calendar/internal/store"
)

// changeBus is what the store client and shutdown need from either bus.
type changeBus interface {
	store.ChangeBus
	Close() error
}

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	var repo interface {
		store.Repository
		handler.Pinger
	}
	var db *sql.DB
	switch strings.ToLower(cfg.Storage) {
	case "memory":
		repo = repository.NewMemoryBookingRepo()
		log.Printf("storage: using in-memory bookings (not persisted)")
	default:
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("storage: open mysql: %v", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("storage: migrate: %v", err)
		}
		repo = repository.NewBookingRepo(db)
	}

	// Change feed
	var bus changeBus
	if strings.ToLower(cfg.ChangeBus) == "amqp" {
		amqpBus, err := queue.DialBus(cfg.RabbitURL, cfg.BookingsExchange)
		if err != nil {
			log.Printf("rabbitmq: %v; falling back to the in-process bus, other instances will not see changes", err)
			bus = queue.NewLocalBus()
		} else {
			bus = amqpBus
			if cfg.AuditLog {
				go func() {
					if err := queue.StartAuditConsumer(ctx, cfg.RabbitURL, cfg.BookingsExchange, cfg.AuditLogPath); err != nil && !errors.Is(err, context.Canceled) {
						log.Printf("audit-consumer: stopped: %v", err)
					}
				}()
			}
		}
	} else {
		bus = queue.NewLocalBus()
	}

	origin, _ := os.Hostname()
	client := store.New(repo, bus, store.WithOrigin(origin))
	if err := client.Start(ctx); err != nil {
		log.Fatalf("store: %v", err)
	}

	root := app.NewRoot(client)
	if err := root.Start(ctx); err != nil {
		log.Fatalf("app: %v", err)
	}

	// Sessions
	loc := cfg.Location()
	locale := calendar.NewLocale(cfg.MondayLocale())
	sessions := session.NewManager(client,
		session.WithIdleTimeout(cfg.SessionTTL),
		session.WithNotificationTTL(cfg.NotificationTTL),
		session.WithDeleteFailureNotices(cfg.NotifyDeleteFailures),
		session.WithLocation(loc),
	)
	go sweepSessions(ctx, sessions, time.Minute)

	rdb := config.NewRedisClient()

	e := echo.New()
	e.HideBanner = true
	e.Renderer = handler.NewRenderer()
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	h := &handler.CalendarHandler{
		State:    root.State,
		Sessions: sessions,
		Export:   &export.Service{Sheets: export.ExcelWriter{}, Locale: locale},
		Locale:   locale,
	}
	router.RegisterRoutes(e, root.State, repo)
	router.RegisterCalendar(e, h, router.Deps{
		Sessions:     sessions,
		Signer:       session.NewSigner(cfg.SessionSecret, cfg.SessionTTL),
		SecureCookie: cfg.Env == "prod",
		Redis:        rdb,
		RateLimit:    config.LoadRateLimitConfig(),
		Cache:        config.LoadCacheConfig(),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, storage=%s, bus=%s)", addr, cfg.Env, cfg.Storage, cfg.ChangeBus)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http: shutdown: %v", err)
	}
	root.Close()
	sessions.Clear()
	if err := bus.Close(); err != nil {
		log.Printf("bus: close: %v", err)
	}
	if db != nil {
		_ = db.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// sweepSessions drops idle sessions every interval until ctx ends.
func sweepSessions(ctx context.Context, m *session.Manager, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("session: swept %d idle sessions", n)
			}
		}
	}
}
