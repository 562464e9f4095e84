// Command authd runs the identity service: registration, verification,
// login with lockout and MFA, password reset, Google sign-in, and the
// user.created event publisher.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lumensocial/identity/internal/account"
	"github.com/lumensocial/identity/internal/auth"
	"github.com/lumensocial/identity/internal/config"
	"github.com/lumensocial/identity/internal/events"
	"github.com/lumensocial/identity/internal/googleauth"
	"github.com/lumensocial/identity/internal/httpapi"
	"github.com/lumensocial/identity/internal/lockout"
	"github.com/lumensocial/identity/internal/mailer"
	"github.com/lumensocial/identity/internal/mfa"
	"github.com/lumensocial/identity/internal/session"
	"github.com/lumensocial/identity/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadAuth,
			newLogger,
			newRedis,
			newPGXPool,
			newAccountStore,
			newTokenService,
			newSessionStore,
			newLockoutCounter,
			newMFACodeStore,
			newPublisher,
			newMailer,
			newGoogleClient,
			newAuthService,
			newAuthenticator,
			newHandler,
			newRouter,
		),
		fx.Invoke(startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg config.Auth) (*zap.Logger, error) {
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

func newRedis(lc fx.Lifecycle, cfg config.Auth) (redis.UniversalClient, error) {
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

func newPGXPool(lc fx.Lifecycle, cfg config.Auth) (*pgxpool.Pool, error) {
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

func newAccountStore(pool *pgxpool.Pool) account.Store {
	return account.NewPGStore(pool)
}

func newTokenService(cfg config.Auth) (*token.Service, error) {
	return token.NewService(token.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.TokenTTL,
		Issuer: "authd",
	})
}

func newSessionStore(client redis.UniversalClient) *session.Store {
	return session.NewStore(client, "session")
}

func newLockoutCounter(client redis.UniversalClient, cfg config.Auth) *lockout.Counter {
	return lockout.NewCounter(client, lockout.Config{
		Threshold: cfg.LockoutThreshold,
		Window:    cfg.LockoutWindow,
	})
}

func newMFACodeStore(client redis.UniversalClient, cfg config.Auth) *mfa.CodeStore {
	return mfa.NewCodeStore(client, cfg.MFAChallengeTTL)
}

func newPublisher(lc fx.Lifecycle, cfg config.Auth, logger *zap.Logger) (auth.Publisher, error) {
	publisher, err := events.NewPublisher(cfg.RabbitURL, cfg.PublishTimeout, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func newMailer(cfg config.Auth, logger *zap.Logger) mailer.Mailer {
	if cfg.SMTPAddr == "" {
		return mailer.NewLogMailer(logger)
	}
	return mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPSender, cfg.PublicURL)
}

func newGoogleClient(cfg config.Auth) *googleauth.Client {
	return googleauth.NewClient(googleauth.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
	})
}

func newAuthService(
	accounts account.Store,
	sessions *session.Store,
	tokens *token.Service,
	lockouts *lockout.Counter,
	codes *mfa.CodeStore,
	publisher auth.Publisher,
	m mailer.Mailer,
	cfg config.Auth,
	logger *zap.Logger,
) *auth.Service {
	return auth.NewService(accounts, sessions, tokens, lockouts, codes, publisher, m, auth.Config{
		VerificationTTL: cfg.VerificationTTL,
		ResetTTL:        cfg.ResetTTL,
		MFAChallengeTTL: cfg.MFAChallengeTTL,
	}, logger)
}

func newAuthenticator(tokens *token.Service, sessions *session.Store, logger *zap.Logger) *httpapi.Authenticator {
	return httpapi.NewAuthenticator(tokens, sessions, logger)
}

func newHandler(svc *auth.Service, google *googleauth.Client, logger *zap.Logger) *httpapi.Handler {
	return httpapi.NewHandler(svc, google, logger)
}

func newRouter(cfg config.Auth, h *httpapi.Handler, authn *httpapi.Authenticator, logger *zap.Logger) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.NewRouter(h, authn, nil, logger)
}

func startHTTPServer(lc fx.Lifecycle, router *gin.Engine, cfg config.Auth, logger *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("auth service listening", zap.String("addr", srv.Addr))
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
