package router

import (
	"fmt"
	"net/http"

	escsvc "carboncred-backend/internal/application/escrow"
	"carboncred-backend/internal/application/extract"
	healthsvc "carboncred-backend/internal/application/health"
	lbsvc "carboncred-backend/internal/application/leaderboard"
	setsvc "carboncred-backend/internal/application/settlement"
	"carboncred-backend/internal/config"
	"carboncred-backend/internal/infrastructure/database"
	"carboncred-backend/internal/infrastructure/keystore"
	"carboncred-backend/internal/infrastructure/ledger"
	"carboncred-backend/internal/infrastructure/store"
	companieshandler "carboncred-backend/internal/interfaces/handlers/companies"
	healthhandler "carboncred-backend/internal/interfaces/handlers/health"
	mkthandler "carboncred-backend/internal/interfaces/handlers/marketplace"
	sethandler "carboncred-backend/internal/interfaces/handlers/settlement"
	"carboncred-backend/internal/middleware"
	"carboncred-backend/internal/pkg/keylock"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// CreateApp wires the full application: database, Redis, ledger gateway,
// services, and routes. The returned clients are handed back so main can
// close them on shutdown.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, nil, err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		rdb = redis.NewClient(opts)
	}

	gateway, err := buildLedger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	companies := &store.Companies{DB: db}
	history := &store.History{DB: db}
	locks := keylock.New()

	lb := &lbsvc.Service{Companies: companies, Rdb: rdb}
	settlement := &setsvc.Service{
		Companies: companies,
		History:   history,
		Ledger:    gateway,
		Extractor: extract.RegexExtractor{},
		Archive:   &extract.Archiver{Dir: cfg.UploadsDir},
		Locks:     locks,
		Cache:     lb,
	}
	escrow := &escsvc.Service{
		Companies: companies,
		History:   history,
		Ledger:    gateway,
		Locks:     locks,
		Cache:     lb,
	}
	health := &healthsvc.Service{DB: &gormDBPinger{db: db}, Rdb: rdb, Ledger: gateway}

	hh := &healthhandler.Handlers{Service: health}
	app.Get("/health/live", hh.Live)
	app.Get("/health/ready", hh.Ready)
	app.Get("/health/json", hh.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	sh := &sethandler.Handlers{Service: settlement}
	sg := app.Group("/api/v1/settlement")
	sg.Post("/register-mint", sh.RegisterMint)
	sg.Post("/submit-audit", sh.SubmitAudit)
	sg.Post("/finalize/:company", sh.Finalize)
	app.Get("/api/v1/companies/:company", sh.Status)

	mh := &mkthandler.Handlers{Service: escrow}
	mg := app.Group("/api/v1/marketplace")
	mg.Post("/create-listing", mh.CreateListing)
	mg.Post("/mark-paid/:listing_id", mh.MarkPaid)
	mg.Post("/release/:listing_id", mh.Release)
	mg.Get("/listings/:listing_id", mh.GetListing)

	ch := &companieshandler.Handlers{Leaderboard: lb, History: history}
	app.Get("/api/v1/leaderboard", ch.GetLeaderboard)
	app.Get("/api/v1/history", ch.GetHistory)

	return app, db, rdb, nil
}

func buildLedger(cfg *config.Config) (ledger.Gateway, error) {
	switch cfg.LedgerMode {
	case "", "memory":
		return ledger.NewMemory(), nil
	case "rpc":
		if cfg.LedgerRPCURL == "" {
			return nil, fmt.Errorf("LEDGER_RPC_URL is required when LEDGER_MODE=rpc")
		}
		var keys keystore.SigningKeys
		if cfg.KeysFile != "" {
			loaded, err := keystore.LoadFile(cfg.KeysFile)
			if err != nil {
				return nil, err
			}
			keys = loaded
		}
		return ledger.NewRPCGateway(cfg.LedgerRPCURL, keys, cfg.LedgerTimeout), nil
	}
	return nil, fmt.Errorf("unknown LEDGER_MODE %q", cfg.LedgerMode)
}

// Handler adapts the Fiber app for callers that need a net/http handler.
func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
