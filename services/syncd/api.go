package syncd

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"metald/pkg/render"
)

const (
	defaultTokenTTL = 5 * time.Minute

	// SettingHardwareSyncInterval is the global default sync cadence,
	// stored as a compact time span ("15m"). Machines capture it at deploy
	// time; later updates never touch already-deployed machines.
	SettingHardwareSyncInterval = "hardware_sync_interval"

	// DefaultHardwareSyncInterval applies when the setting was never set.
	DefaultHardwareSyncInterval = "15m"
)

// Config controls runtime behaviour for the API handlers.
//
// TokenTTL is a floor, not the lifetime every token gets: tokens issued to a
// sync-enabled machine are sized to outlive a full report cycle so the agent
// can always refresh on its next tick (see agentTokenTTL).
type Config struct {
	APIBase  string
	TokenTTL time.Duration
}

// API wires the reconciler, store, renderer and token issuance for the HTTP
// surface.
type API struct {
	rec      *Reconciler
	store    Store
	renderer *render.Engine
	config   Config
	tokens   *tokenStore
	logger   *log.Logger
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(rec *Reconciler, store Store, renderer *render.Engine, cfg Config, logger *log.Logger) (*API, error) {
	if rec == nil {
		return nil, errors.New("reconciler is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if logger == nil {
		logger = log.New(logDiscard{}, "", 0)
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	return &API{
		rec:      rec,
		store:    store,
		renderer: renderer,
		config:   cfg,
		tokens:   newTokenStore(cfg.TokenTTL),
		logger:   logger,
	}, nil
}

// agentTokenTTL sizes a machine's bearer token so it is still refreshable on
// the next report tick: at least two sync intervals, never below the
// configured TTL. A token living only for the configured floor would expire
// between two reports whenever the interval exceeds it, leaving the agent
// with no credential to refresh with.
func (a *API) agentTokenTTL(m Machine) time.Duration {
	ttl := a.config.TokenTTL
	if m.SyncInterval != nil && *m.SyncInterval > 0 {
		if cycle := 2 * time.Duration(*m.SyncInterval) * time.Second; cycle > ttl {
			ttl = cycle
		}
	}
	return ttl
}

// NewAPIFromEnv builds the API layer with configuration taken from the
// environment: SYNCD_API_BASE for the address agents call back on, and
// SYNCD_TOKEN_TTL_SECONDS for agent token lifetime.
func NewAPIFromEnv(rec *Reconciler, store Store, logger *log.Logger) (*API, error) {
	renderer, err := render.New()
	if err != nil {
		return nil, err
	}

	cfg := Config{APIBase: strings.TrimSpace(os.Getenv("SYNCD_API_BASE"))}
	if raw := strings.TrimSpace(os.Getenv("SYNCD_TOKEN_TTL_SECONDS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, errors.New("invalid SYNCD_TOKEN_TTL_SECONDS: " + raw)
		}
		cfg.TokenTTL = time.Duration(secs) * time.Second
	}

	return New(rec, store, renderer, cfg, logger)
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/machines", a.handleEnrollMachine)
		r.Get("/machines/{machineID}", a.handleGetMachine)
		r.Post("/machines/{machineID}/deploy", a.handleDeployMachine)
		r.Post("/machines/{machineID}/release", a.handleReleaseMachine)
		r.Get("/machines/{machineID}/sync-config", a.handleSyncConfig)
		r.Post("/agents/report", a.handleAgentReport)
		r.Post("/agents/token/refresh", a.handleAgentTokenRefresh)
		r.Get("/settings/"+SettingHardwareSyncInterval, a.handleGetSyncInterval)
		r.Put("/settings/"+SettingHardwareSyncInterval, a.handlePutSyncInterval)
	})

	return r, nil
}
