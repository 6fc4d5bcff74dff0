// Package app wires the Warden server runtime: config, logging, storage,
// the session service, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"warden/cmd/identity"
	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/realtime"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

// components holds the per-package configuration App is built from.
type components struct {
	tokens    token.Config
	passwords password.Config
	store     session.StoreConfig
	auth      authapi.Config
	ws        realtime.Config
}

func loadComponents() (components, error) {
	tokens, err := token.LoadConfigFromEnv(token.DefaultConfig())
	if err != nil {
		return components{}, fmt.Errorf("token config: %w", err)
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return components{}, fmt.Errorf("password config: %w", err)
	}
	store, err := session.LoadStoreConfigFromEnv(session.DefaultStoreConfig())
	if err != nil {
		return components{}, fmt.Errorf("store config: %w", err)
	}
	return components{
		tokens:    tokens,
		passwords: passwords,
		store:     store,
		auth:      authapi.LoadConfigFromEnv(),
		ws:        realtime.LoadConfigFromEnv(realtime.DefaultConfig()),
	}, nil
}

// App is the Warden server runtime. It owns the HTTP server wiring and the
// lifecycle of DB and Redis connections.
type App struct {
	cfg Config
	log Logger

	reg     *prometheus.Registry
	metrics *httpMetrics

	pool      *pgxpool.Pool
	rdb       *redis.Client
	storeKind session.StoreKind

	sessions *session.Service
	hub      *realtime.Hub
	ws       *realtime.WSGateway
	auth     *authapi.Handler
}

// New constructs a fully wired App from cfg and the WARDEN_* component
// settings.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	comps, err := loadComponents()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, log, comps)
}

func newApp(ctx context.Context, cfg Config, log Logger, comps components) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, reg: newRegistry()}
	a.metrics = newHTTPMetrics(a.reg)
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	users, store, err := a.openStores(ctx, comps.store)
	if err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(comps.tokens)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	a.hub = realtime.NewHub(log, a.reg)
	a.sessions, err = session.NewService(users, store, password.NewHasher(comps.passwords), codec,
		session.WithNotifier(a.hub),
		session.WithMetrics(session.NewMetrics(a.reg)),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, a.sessions, comps.auth)
	if err != nil {
		return nil, err
	}

	a.ws, err = realtime.NewWSGateway(log, a.hub, a.sessions, comps.ws)
	if err != nil {
		return nil, err
	}

	log.Info("app.ready",
		"credential_store", string(a.storeKind),
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
	)
	ok = true
	return a, nil
}

// openStores connects the configured backends and returns the user
// directory and credential store built on them.
//
// The directory lives in Postgres whenever a database is configured. The
// credential store follows sc.Kind; auto means Postgres with a database and
// memory without one.
func (a *App) openStores(ctx context.Context, sc session.StoreConfig) (identity.Directory, session.Store, error) {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
		a.pool = pool
	}
	if a.cfg.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		a.rdb = rdb
	}

	var users identity.Directory
	if a.pool != nil {
		dir, err := identity.NewPostgresDirectory(a.pool, identity.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, nil, err
		}
		users = dir
	} else {
		a.log.Warn("db.disabled.inmemory_directory")
		users = identity.NewMemoryDirectory()
	}

	kind := sc.Kind
	if kind == session.StoreAuto || kind == "" {
		kind = session.StoreMemory
		if a.pool != nil {
			kind = session.StorePostgres
		}
	}
	a.storeKind = kind

	switch kind {
	case session.StoreMemory:
		return users, session.NewMemoryStore(), nil
	case session.StorePostgres:
		if a.pool == nil {
			return nil, nil, errors.New("credential store postgres requires WARDEN_DATABASE_URL")
		}
		st, err := session.NewPostgresStore(a.pool, session.WithPostgresSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, nil, err
		}
		return users, st, nil
	case session.StoreRedis:
		if a.rdb == nil {
			return nil, nil, errors.New("credential store redis requires WARDEN_REDIS_URL")
		}
		st, err := session.NewRedisStore(a.rdb, sc)
		if err != nil {
			return nil, nil, err
		}
		return users, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", kind)
	}
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithMetrics(h, a.metrics)
	h = WithRequestLogging(h, a.log)
	h = WithRequestID(h)
	return h
}

// Close releases DB and Redis connections. It is safe to call twice.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
