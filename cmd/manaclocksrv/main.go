package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vctt94/bisonbotkit/logging"

	"github.com/manaclock/manaclock/pkg/config"
	"github.com/manaclock/manaclock/pkg/server"
	"github.com/manaclock/manaclock/pkg/store"
	"github.com/manaclock/manaclock/pkg/utils"
	"github.com/manaclock/manaclock/pkg/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "manaclocksrv: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		host       string
		port       int
		storeKind  string
		dbPath     string
		redisAddr  string
		dataDir    string
		debugLevel string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&host, "host", "", "Host to listen on (overrides config)")
	flag.IntVar(&port, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&storeKind, "store", "", "Persistence backend: memory, sqlite or redis")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&redisAddr, "redis", "", "Redis address for the shared store")
	flag.StringVar(&dataDir, "datadir", "", "Data directory")
	flag.StringVar(&debugLevel, "debuglevel", "", "Logging level: trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if storeKind != "" {
		cfg.Store = storeKind
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
		cfg.Store = config.StoreRedis
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugLevel != "" {
		cfg.DebugLevel = debugLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := utils.EnsureDataDirExists(cfg.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:    cfg.LogFile,
		DebugLevel: cfg.DebugLevel,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log := logBackend.Logger("MAIN")

	var (
		st store.Store
		ps store.PubSub
	)
	switch cfg.Store {
	case config.StoreMemory:
		st = store.NewMemory()
	case config.StoreSQLite:
		st, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("sqlite store: %w", err)
		}
	case config.StoreRedis:
		r, err := store.NewRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.SessionTTL)
		if err != nil {
			return fmt.Errorf("redis store: %w", err)
		}
		st = r
		ps = r
	}

	srv, err := server.New(server.Config{
		LogBackend: logBackend,
		Store:      st,
		PubSub:     ps,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	transport := ws.New(ws.Config{
		Engine:         srv,
		Log:            logBackend.Logger("WS"),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", transport)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if srv.Draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.MetricsAddr == "" {
		mux.Handle("/metrics", server.MetricsHandler())
	} else {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", server.MetricsHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
				log.Errorf("Metrics listener failed: %v", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s (store=%s, instance=%s)", cfg.Addr(), cfg.Store, srv.InstanceID())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received %v, draining", sig)
	case err := <-errCh:
		srv.Stop()
		return fmt.Errorf("listen: %w", err)
	}

	// Drain: warn clients, wait out the grace window, flush and close.
	transport.Stop()
	srv.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	log.Infof("Shutdown complete")
	return nil
}
