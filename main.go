package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/sessionauth/internal/account"
	"github.com/example/sessionauth/internal/auth"
	cfg "github.com/example/sessionauth/internal/config"
	"github.com/example/sessionauth/internal/guard"
	"github.com/example/sessionauth/internal/password"
	"github.com/example/sessionauth/internal/token"
)

// Store is an account store with a connection lifecycle.
type Store interface {
	account.Store
	Init() error
	Ping() bool
	Close() error
}

type App struct {
	Config *cfg.Config
	Store  Store
	Tokens *token.Service
	Engine *auth.Engine
	Guard  *guard.Guard
	Log    *slog.Logger

	registry    *prometheus.Registry
	httpMetrics *httpMetrics
	rateLimiter *RateLimiter
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", slog.String("error", err.Error()))
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// openStore returns the store selected by DB_ADAPTER, initialised and ready.
func openStore(c *cfg.Config, log *slog.Logger) (Store, error) {
	var s Store
	switch c.DBAdapter {
	case "sqlite":
		sq, err := account.NewSQLiteStore(c.SQLiteFile, c.MaxRefreshTokens)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		s = sq
	case "postgres":
		log.Info("applying database migrations", slog.String("dir", c.MigrationsDir))
		if err := applyMigrations(c.MigrationsDir, c.PostgresDSN, log); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := account.NewPostgresStore(c.PostgresDSN, c.MaxRefreshTokens)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		s = p
	case "memory":
		log.Warn("using in-memory store (not recommended for production)")
		s = account.NewMemoryStore(c.MaxRefreshTokens)
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%s init: %w", c.DBAdapter, err)
	}
	return s, nil
}

// newApp wires the token service, hasher, engine and guard over store.
func newApp(c *cfg.Config, store Store, log *slog.Logger) (*App, error) {
	tokens, err := token.New(token.Config{
		AccessSecret:    c.AccessTokenSecret,
		RefreshSecret:   c.RefreshTokenSecret,
		AccessLifespan:  c.AccessTokenLifespan.Duration(),
		RefreshLifespan: c.RefreshTokenLifespan.Duration(),
		Issuer:          c.TokenIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	hasher, err := password.NewHasher(c.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := auth.New(auth.Config{
		Roles:                          c.Roles,
		RevokeSessionsOnPasswordChange: c.RevokeOnPasswordChange,
		PhoneRegion:                    c.PhoneRegion,
	}, store, tokens, hasher, log, auth.WithMetrics(auth.NewMetrics(reg)))
	if err != nil {
		return nil, fmt.Errorf("auth engine: %w", err)
	}

	app := &App{
		Config:      c,
		Store:       store,
		Tokens:      tokens,
		Engine:      engine,
		Guard:       guard.New(tokens, engine.Roles(), log),
		Log:         log,
		registry:    reg,
		httpMetrics: newHTTPMetrics(reg),
	}
	if c.RateLimitPerMinute > 0 {
		app.rateLimiter = NewRateLimiter(c.RateLimitPerMinute)
	}
	return app, nil
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !a.Store.Ping() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	r.Use(app.Recovery)
	r.Use(SecurityHeaders)
	r.Use(app.Logging)
	r.Use(app.Metrics)
	r.Use(app.CORS)

	r.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", app.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1/auth").Subrouter()
	v1.Use(app.RateLimit)
	v1.HandleFunc("/register", app.HandleRegister).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/login", app.HandleLogin).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/refresh", app.HandleRefresh).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/logout", app.HandleLogout).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/introspect", app.HandleTokenIntrospect).Methods(http.MethodPost, http.MethodOptions)

	protected := v1.NewRoute().Subrouter()
	protected.Use(app.Guard.Require())
	protected.HandleFunc("/change-password", app.HandleChangePassword).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/account", app.HandleDeleteAccount).Methods(http.MethodDelete, http.MethodOptions)
	protected.HandleFunc("/me", app.HandleMe).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		slog.Error("config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := newLogger(c.LogLevel, c.LogFormat)
	slog.SetDefault(log)

	store, err := openStore(c, log)
	if err != nil {
		log.Error("store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	app, err := newApp(c, store, log)
	if err != nil {
		log.Error("startup", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.rateLimiter != nil {
		go func() {
			t := time.NewTicker(3 * time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					app.rateLimiter.Cleanup(10 * time.Minute)
				}
			}
		}()
	}

	srv := &http.Server{
		Handler:      newRouter(app),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", slog.String("port", c.Port), slog.String("db", c.DBAdapter))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", slog.String("error", err.Error()))
	}
	_ = app.Store.Close()
	log.Info("server exited properly")
}
