package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/api"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/nonce"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/observability"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
	"github.com/praj33/Nyaya-Ai-sub001/pkg/trace"
)

const (
	idempotencyTTL   = 24 * time.Hour
	idempotencySweep = 10 * time.Minute
)

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// services is everything the HTTP layer needs, assembled from config.
type services struct {
	handle   *ledgerHandle
	store    ledger.Store
	nonces   nonce.Manager
	traces   api.TraceReader
	registry *config.Registry
	idem     api.IdempotencyStorer
	obs      *observability.Provider
	closers  []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("shutdown: close failed", "error", err)
		}
	}
}

// buildServices wires the trust core from cfg. The janitors it starts stop
// when ctx is done.
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	svc := &services{}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = !cfg.Production
	if cfg.Production {
		obsCfg.Environment = "production"
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	svc.obs = obs
	svc.closers = append(svc.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return obs.Shutdown(sctx)
	})

	keys, err := loadSigner(cfg)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("signer: %w", err)
	}
	slog.Info("trust: ledger signer ready", "signer", keys)

	lh, err := openLedger(ctx, cfg, keys)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	svc.handle = lh
	svc.closers = append(svc.closers, lh.close)
	svc.store = observability.InstrumentLedger(lh.store, obs)

	var nm nonce.Manager
	if cfg.RedisAddr != "" {
		rm := nonce.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.NonceTTL)
		if err := rm.Ping(ctx); err != nil {
			_ = rm.Close()
			svc.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		svc.closers = append(svc.closers, rm.Close)
		slog.Info("nonces: redis", "addr", cfg.RedisAddr)
		nm = rm
	} else {
		mm := nonce.NewMemoryManager(cfg.NonceTTL)
		mm.StartJanitor(ctx, time.Minute)
		slog.Info("nonces: in-memory", "ttl", cfg.NonceTTL)
		nm = mm
	}
	svc.nonces = observability.InstrumentNonces(nm, obs)

	svc.traces = observability.InstrumentTraces(trace.NewReconstructor(svc.store, keys), obs)

	reg, err := config.LoadRegistry(cfg.JurisdictionsFile)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.registry = reg

	if lh.dialect == ledger.DialectPostgres {
		ps := api.NewPostgresIdempotencyStore(lh.db, idempotencyTTL)
		if err := ps.Init(ctx); err != nil {
			svc.Close()
			return nil, err
		}
		ps.StartJanitor(ctx, idempotencySweep)
		svc.idem = ps
	} else {
		ms := api.NewIdempotencyStore(idempotencyTTL)
		ms.StartJanitor(ctx, idempotencySweep)
		svc.idem = ms
	}
	return svc, nil
}

// handlers returns the API handler and the health handler.
func (s *services) handlers(ctx context.Context, cfg *config.Config) (http.Handler, http.Handler, error) {
	srv, err := api.NewServer(s.nonces, s.store, s.traces, s.registry)
	if err != nil {
		return nil, nil, err
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartJanitor(ctx)

	apiHandler := api.Chain(srv.Routes(),
		api.RequestIDMiddleware,
		limiter.Middleware,
		api.IdempotencyMiddleware(s.idem),
	)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health", srv.HandleHealth)
	return apiHandler, healthMux, nil
}

func runServer(stdout, stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)
	fmt.Fprintf(stdout, "%sNyaya trust core starting...%s\n", ColorBold+ColorBlue, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LedgerBackend == config.BackendSQLite && cfg.DatabaseURL == "" {
		fmt.Fprintf(stdout, "DATABASE_URL not set. Using %sLite Mode%s (SQLite at %s).\n",
			ColorBold+ColorCyan, ColorReset, cfg.LedgerPath)
	}

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}
	defer svc.Close()

	apiHandler, healthHandler, err := svc.handlers(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	apiSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthSrv := &http.Server{
		Addr:              ":" + cfg.HealthPort,
		Handler:           healthHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	for _, s := range []*http.Server{apiSrv, healthSrv} {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("%s: %w", s.Addr, err)
			}
		}(s)
	}

	slog.Info("ready", "api", apiSrv.Addr, "health", healthSrv.Addr, "backend", cfg.LedgerBackend)

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errc:
		slog.Error("server failed", "error", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range []*http.Server{apiSrv, healthSrv} {
		if err := s.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown failed", "addr", s.Addr, "error", err)
		}
	}
	return code
}

func runHealthCmd(args []string, out, errOut io.Writer) int {
	url := "http://localhost:" + config.Load().HealthPort + "/health"
	if len(args) > 0 {
		url = args[0]
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
