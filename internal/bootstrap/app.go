package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kana-backend/internal/artifacts"
	"kana-backend/internal/gateway"
	"kana-backend/internal/records"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/config"
	"kana-backend/internal/shared/server"
	"kana-backend/internal/shared/storage/db"
	"kana-backend/internal/shared/storage/object"
	localstore "kana-backend/internal/shared/storage/object/local"
	s3store "kana-backend/internal/shared/storage/object/s3"
	"kana-backend/internal/shared/telemetry"
	"kana-backend/internal/stages"
)

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Dialect    db.Dialect
	Store      object.ObjectStore
	Artifacts  *artifacts.Service
	Records    *records.Service
	References *references.Store
	Broker     *gateway.Broker
	Gateway    *gateway.Handler
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, dialect, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      sqlDB,
		Dialect: dialect,
		Store:   store,
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:  app.Config,
		Gateway: app.Gateway,
		Ready:   app.ping,
	})
	return app, nil
}

// Close releases sessions and the database pool.
func (a *App) Close() {
	if a.Broker != nil {
		a.Broker.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func (a *App) ping() error {
	if a.DB == nil {
		return nil
	}
	return db.Ping(context.Background(), a.DB, 2*time.Second)
}

// buildDB opens Postgres when DATABASE_URL is set, otherwise sqlite when a
// path is configured. Dev-like environments fall back to in-memory
// repositories.
func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, db.Dialect, error) {
	var (
		sqlDB   *sql.DB
		dialect db.Dialect
		err     error
	)
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		dialect = db.DialectPostgres
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	case strings.TrimSpace(cfg.SQLitePath) != "":
		dialect = db.DialectSQLite
		sqlDB, err = db.OpenSQLite(ctx, cfg.SQLitePath, db.DefaultSQLiteOptions())
	default:
		if isDevLike(cfg.Env) {
			telemetry.Info("bootstrap.memory_repositories", map[string]any{"reason": "no database configured"})
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database_unavailable", map[string]any{"dialect": string(dialect), "error": err.Error()})
			return nil, "", nil
		}
		return nil, "", err
	}

	if err := db.RunMigrations(ctx, sqlDB, dialect); err != nil {
		sqlDB.Close()
		return nil, "", fmt.Errorf("run migrations: %w", err)
	}
	return sqlDB, dialect, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "memory":
		return object.NewMemoryStore(), nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) {
	var artifactRepo artifacts.Repo
	var recordRepo records.Repo
	if app.DB != nil {
		artifactRepo = &artifacts.SQLRepo{DB: app.DB, Dialect: app.Dialect}
		recordRepo = &records.SQLRepo{DB: app.DB, Dialect: app.Dialect}
	} else {
		artifactRepo = artifacts.NewMemoryRepo()
		recordRepo = records.NewMemoryRepo()
	}

	app.Artifacts = &artifacts.Service{Store: app.Store, Repo: artifactRepo}
	app.Records = &records.Service{Store: app.Store, Repo: recordRepo, Artifacts: app.Artifacts}
	app.References = references.NewStore(app.Store, app.Config.ReferencesURL)

	var ping func(context.Context) error
	if app.DB != nil {
		ping = func(ctx context.Context) error { return db.Ping(ctx, app.DB, 5*time.Second) }
	}
	app.Broker = gateway.NewBroker(gateway.Deps{
		Env:        stages.Env{Threads: app.Config.Threads},
		References: app.References,
		Artifacts:  app.Artifacts,
		Records:    app.Records,
		Ping:       ping,
	}, app.Config.MaxSessions)
	app.Gateway = gateway.NewHandler(app.Broker, app.Records)
}
