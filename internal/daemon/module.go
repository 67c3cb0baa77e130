// Package daemon composes chatcored: configuration, credential, cache,
// transport and the conversation session, wired through fx.
package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatcore/internal/attach"
	"chatcore/internal/bus"
	"chatcore/internal/config"
	"chatcore/internal/conversation"
	"chatcore/internal/directory"
	"chatcore/internal/identity"
	"chatcore/internal/ingest"
	"chatcore/internal/lock"
	"chatcore/internal/logging"
	"chatcore/internal/relay"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// Params holds the daemon invocation options.
type Params struct {
	ConfigPath string // empty = ~/.chatcore/config.toml
}

// credential pairs the decoded identity with the raw bearer token, which the
// REST client and the socket transport both present to the relay.
type credential struct {
	ident identity.Identity
	token string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredential,
			provideRelayClient,
			provideTransport,
			provideBridge,
			providePipeline,
			provideDirectory,
			provideSession,
			provideIngest,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	path := p.ConfigPath
	if path == "" {
		path = config.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(config.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", config.BaseDir()))
	l, err := lock.Acquire(config.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	dbPath := config.CacheDBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredential(cfg *config.Config, logger *zap.Logger) (*credential, error) {
	data, err := os.ReadFile(cfg.Credential.TokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, identity.ErrNoCredential
		}
		return nil, err
	}
	ident, err := identity.Resolve(string(data))
	if err != nil {
		return nil, err
	}
	logger.Info("credential resolved",
		zap.Int64("user_id", ident.ID),
		zap.String("email", ident.Email))
	return &credential{ident: ident, token: string(data)}, nil
}

func provideRelayClient(cfg *config.Config, cred *credential, logger *zap.Logger) *relay.Client {
	return relay.NewClient(cfg.Relay.APIURL, cred.token, cfg.RequestTimeout(), logger)
}

func provideTransport(cfg *config.Config, cred *credential, logger *zap.Logger) *transport.Client {
	return transport.NewClient(cfg.Relay.SocketURL, cred.token, logger)
}

func provideBridge(tc *transport.Client, b *bus.Bus, logger *zap.Logger) *transport.Bridge {
	return transport.NewBridge(tc, b, logger)
}

func providePipeline(cfg *config.Config, logger *zap.Logger) *attach.Pipeline {
	return attach.NewPipeline(cfg.Upload.Endpoint, cfg.Upload.Preset, cfg.Upload.MaxBytes, cfg.RequestTimeout(), logger)
}

func provideDirectory(rest *relay.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(rest, db, b, logger)
}

func provideSession(cred *credential, tc *transport.Client, rest *relay.Client, up *attach.Pipeline, dir *directory.Directory, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *conversation.Session {
	return conversation.NewSession(cred.ident, tc, rest, up, dir, b, cfg.TypingTTL(), logger)
}

func provideIngest(db *store.DB, dir *directory.Directory, b *bus.Bus, sess *conversation.Session, logger *zap.Logger) *ingest.Engine {
	return ingest.New(db, dir, b, sess, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, tc *transport.Client, br *transport.Bridge, engine *ingest.Engine, sess *conversation.Session, dir *directory.Directory, cred *credential, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers first, then the socket, so nothing published during
			// the first connect is missed.
			br.Start(context.Background())
			engine.Start(context.Background())
			sess.Start(context.Background())
			tc.Start(context.Background())

			// Directory load happens off the start path; a dead relay falls
			// back to the cached contacts.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				contacts, err := dir.Load(ctx, cred.ident)
				if err != nil {
					cached, cacheErr := dir.Cached()
					if cacheErr != nil {
						logger.Error("directory unavailable", zap.Error(err), zap.NamedError("cache", cacheErr))
						return
					}
					logger.Warn("directory load failed, serving cache",
						zap.Error(err), zap.Int("cached", len(cached)))
					return
				}
				logger.Info("directory loaded", zap.Int("contacts", len(contacts)))
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			sess.Stop()
			engine.Stop()
			br.Stop()
			tc.Close()
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
