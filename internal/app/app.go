package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/dmchat/internal/auth"
	"github.com/vovakirdan/dmchat/internal/config"
	"github.com/vovakirdan/dmchat/internal/core"
	"github.com/vovakirdan/dmchat/internal/media"
	"github.com/vovakirdan/dmchat/internal/metrics"
	"github.com/vovakirdan/dmchat/internal/relay"
	"github.com/vovakirdan/dmchat/internal/service/gateway"
	"github.com/vovakirdan/dmchat/internal/store"
	"github.com/vovakirdan/dmchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/dmchat/internal/transport/http"
)

// relayRunner is a broker-backed core.Relay.
type relayRunner interface {
	core.Relay
	SetHeartbeat(d time.Duration)
	Run(ctx context.Context, d relay.Deliverer) error
	Close() error
}

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	router          *core.Router
	relay           relayRunner
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	gw := gateway.New(st)
	// With a relay, other live instances may own the persisted flags.
	if !cfg.Relay.Enabled() {
		if n, err := gw.ResetPresence(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("reset presence: %w", err)
		} else if n > 0 {
			logger.Info().Int64("users", n).Msg("cleared stale presence flags")
		}
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	mediaStore, mediaDir, err := newMediaStore(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init media: %w", err)
	}

	rel, err := newRelay(ctx, cfg.Relay, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init relay: %w", err)
	}
	if rel != nil {
		rel.SetHeartbeat(cfg.Relay.HeartbeatInterval)
	}

	registry := core.NewRegistry(gw, gw, cfg.Presence.DefaultAvatar, logger)
	registry.SetPeerTTL(3 * cfg.Relay.HeartbeatInterval)

	m := metrics.New()
	routerCfg := core.RouterConfig{
		Presence: registry,
		Messages: gw,
		Media:    mediaStore,
		Observer: m,
		Logger:   logger,
		Options: core.Options{
			InitialSnapshot: cfg.Presence.InitialSnapshot,
			MultiSession:    cfg.Presence.MultiSession,
		},
	}
	if rel != nil {
		routerCfg.Relay = rel
	}
	router := core.NewRouter(routerCfg)

	server := transporthttp.NewServer(transporthttp.Deps{
		Router:   router,
		Auth:     authService,
		Messages: gw,
		Metrics:  m,
		MediaDir: mediaDir,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		router:          router,
		relay:           rel,
		store:           st,
		log:             logger,
	}, nil
}

func newMediaStore(ctx context.Context, cfg *config.Config) (core.MediaStore, string, error) {
	switch strings.ToLower(cfg.Media.Driver) {
	case "", "local":
		local, err := media.NewLocal(cfg.Media.Dir, cfg.Media.BaseURL)
		if err != nil {
			return nil, "", err
		}
		return local, local.Dir(), nil
	case "s3":
		s3cfg := cfg.Media.S3
		bucket, err := media.NewS3(ctx, media.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			Prefix:          s3cfg.Prefix,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			PublicURL:       s3cfg.PublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		return bucket, "", nil
	default:
		return nil, "", fmt.Errorf("unknown media driver %q", cfg.Media.Driver)
	}
}

func newRelay(ctx context.Context, cfg config.RelayConfig, logger *zerolog.Logger) (relayRunner, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.Channel).Msg("redis relay enabled")
		return relay.NewRedis(client, cfg.Channel, logger), nil
	case "nats":
		nc, err := relay.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("url", cfg.NATSURL).Str("subject", cfg.Channel).Msg("nats relay enabled")
		return relay.NewNATS(nc, cfg.Channel, logger), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx, a.router)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes the relay and the database.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
