// Command gateway runs the edge process: the shared admission limiter in
// front of the reverse-proxied service routes.
package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumensocial/identity/internal/config"
	"github.com/lumensocial/identity/internal/ratelimit"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadGateway,
			newLogger,
			newRedis,
			newLimiter,
			newRouter,
		),
		fx.Invoke(startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg config.Gateway) (*zap.Logger, error) {
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

func newRedis(lc fx.Lifecycle, cfg config.Gateway) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newLimiter(client redis.UniversalClient, cfg config.Gateway, logger *zap.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(client, ratelimit.Config{
		Window: cfg.RateWindow,
		Limit:  cfg.RateLimit,
	}, logger)
}

func newRouter(cfg config.Gateway, limiter *ratelimit.Limiter, logger *zap.Logger) (*gin.Engine, error) {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	// The limiter sits in front of all routing: every proxied route shares
	// the same per-client window.
	r.Use(limiter.Middleware())

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

	authProxy, err := newProxy(cfg.AuthServiceURL)
	if err != nil {
		return nil, err
	}
	userProxy, err := newProxy(cfg.UserServiceURL)
	if err != nil {
		return nil, err
	}

	r.Any("/api/auth/*path", authProxy)
	r.Any("/api/users/*path", userProxy)

	return r, nil
}

func newProxy(target string) (gin.HandlerFunc, error) {
	upstream, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

func startHTTPServer(lc fx.Lifecycle, router *gin.Engine, cfg config.Gateway, logger *zap.Logger) {
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("gateway listening", zap.String("addr", srv.Addr))
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
