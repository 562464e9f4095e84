// Command userd hosts the profile replica: a long-lived consumer of
// user.created facts materializing the local read replica.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumensocial/identity/internal/config"
	"github.com/lumensocial/identity/internal/events"
	"github.com/lumensocial/identity/internal/profile"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadUser,
			newLogger,
			newPGXPool,
			newReplica,
			newConsumer,
		),
		fx.Invoke(runConsumer, startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg config.User) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.User) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func newReplica(pool *pgxpool.Pool) profile.Replica {
	return profile.NewPGReplica(pool)
}

func newConsumer(cfg config.User, replica profile.Replica, logger *zap.Logger) (*events.Consumer, error) {
	applier := events.ApplierFunc(func(ctx context.Context, fact events.UserCreated) error {
		return replica.UpsertFromEvent(ctx, fact)
	})
	return events.NewConsumer(cfg.RabbitURL, applier, logger)
}

func runConsumer(lc fx.Lifecycle, consumer *events.Consumer, logger *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop

			go func() {
				logger.Info("profile replica consumer started")
				if err := consumer.Run(runCtx); err != nil && err != context.Canceled {
					logger.Error("consumer stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return consumer.Close()
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg config.User, logger *zap.Logger) {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	start := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "up",
			"uptime":    time.Since(start).Seconds(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("profile service listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
