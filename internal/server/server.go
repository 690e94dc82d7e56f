package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/graphloom/backend/internal/db"
	"github.com/graphloom/backend/internal/queue"
	mid "github.com/graphloom/backend/internal/server/middleware"
	"github.com/graphloom/backend/internal/util"
	"github.com/graphloom/backend/pkg/commit"
	"github.com/graphloom/backend/pkg/leaselock"
	"github.com/graphloom/backend/pkg/logger"
	"github.com/graphloom/backend/pkg/staging"
	neo4jstore "github.com/graphloom/backend/pkg/store/neo4j"
	"github.com/graphloom/backend/pkg/store/sparql"
	"github.com/graphloom/backend/pkg/syncer"
	"github.com/graphloom/backend/pkg/trust"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := db.Migrate(databaseURL, util.GetEnvString("MIGRATIONS_PATH", "migrations")); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := db.Connect(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	rdb, err := staging.NewRedisClient(ctx, util.GetEnv("REDIS_ADDR"))
	if err != nil {
		logger.Fatal("Failed to connect to redis", "err", err)
	}
	defer rdb.Close()
	stages := staging.NewRedisStore(rdb)

	triples := sparql.NewClient(
		util.GetEnv("SPARQL_QUERY_URL"),
		util.GetEnv("SPARQL_UPDATE_URL"),
		util.GetEnvDuration("SPARQL_TIMEOUT", 30*time.Second),
	)

	graph, err := neo4jstore.NewStore(ctx, neo4jstore.NewStoreParams{
		URI:      util.GetEnv("NEO4J_URI"),
		User:     util.GetEnv("NEO4J_USER"),
		Password: util.GetEnv("NEO4J_PASSWORD"),
		Database: util.GetEnvString("NEO4J_DATABASE", ""),
	})
	if err != nil {
		logger.Fatal("Failed to connect to neo4j", "err", err)
	}
	defer graph.Close(context.Background())

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.WorkQueues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	trustCfg := trust.DefaultConfig()
	trustCfg.DecayHalfLife = util.GetEnvDuration("TRUST_DECAY_HALF_LIFE", 0)
	trustEngine := trust.NewEngine(trustCfg, trust.NewPostgresStore(conn), graph)

	commits := commit.NewPipeline(stages, graph, triples, trustEngine)
	runs := syncer.NewPostgresRunStore(conn)
	sync := syncer.New(triples, graph, runs, leaselock.New(conn))

	app := &mid.App{
		DBConn:  conn,
		Queue:   ch,
		Staging: stages,
		Commits: commits,
		Syncer:  sync,
		Runs:    runs,
		Trust:   trustEngine,
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(echomw.CORS())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
