package main

import (
	"log"
	"log/slog"

	"github.com/vbonduro/placemap/internal/config"
	"github.com/vbonduro/placemap/internal/db"
	"github.com/vbonduro/placemap/internal/gateway"
	"github.com/vbonduro/placemap/internal/logging"
	"github.com/vbonduro/placemap/internal/mapengine/scene"
	"github.com/vbonduro/placemap/internal/metrics"
	"github.com/vbonduro/placemap/internal/route"
	"github.com/vbonduro/placemap/internal/service"
	"github.com/vbonduro/placemap/internal/session"
	"github.com/vbonduro/placemap/internal/store"
	"github.com/vbonduro/placemap/internal/web"
	"github.com/vbonduro/placemap/internal/web/templates"
)

func main() {
	cfg := config.Load()
	if cfg.ConfigFile != "" {
		fileCfg, err := config.LoadFile(cfg.ConfigFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = fileCfg
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	metrics.Register()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	journal := store.NewJournalStore(database)
	client := gateway.NewClient(cfg.APIURL, cfg.APITimeout, logger)
	demo := session.Credentials{Email: cfg.DemoEmail, Password: cfg.DemoPassword}
	if demo.Email == "" || demo.Password == "" {
		logger.Info("demo login disabled")
	}

	routes := route.NewSelector(route.RoutePublic, newViewFactory(client, demo, journal, logger), logger)
	defer routes.Close()

	server := web.NewServer(routes, journal, templates.FS, logger)
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

// newViewFactory builds a fresh view, with its own session and map surface, on
// every route change.
func newViewFactory(client *gateway.Client, demo session.Credentials, journal *store.JournalStore, logger *slog.Logger) route.Factory {
	return func(r route.Route) route.View {
		switch r {
		case route.RouteAdmin:
			return service.NewAdminService(client, demo, journal, scene.NewFactory(nil), logger.With("view", "admin"))
		default:
			return service.NewExplorerService(client, scene.NewFactory(nil), logger.With("view", "public"))
		}
	}
}
