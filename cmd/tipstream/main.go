package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/tipstream/internal/app"
	"github.com/ayusman/tipstream/internal/config"
	"github.com/ayusman/tipstream/internal/store"
	"github.com/ayusman/tipstream/internal/tracking"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file")
		mode       = flag.String("mode", "", "tracking mode: absolute or offset")
		transport  = flag.String("transport", "", "transport kind: tcp, serial, websocket or mqtt")
		address    = flag.String("address", "", "transport address")
		dbPath     = flag.String("db", "", "run database path (default ~/.tipstream/tipstream.db)")
		httpAddr   = flag.String("http", "", "status server address, empty to disable")
		verbose    = flag.Bool("verbose", false, "log every sent sample")
	)
	flag.Parse()

	fmt.Println("Tipstream - Fingertip Control Stream")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	path := *dbPath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		dataDir := filepath.Join(homeDir, ".tipstream")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		path = filepath.Join(dataDir, "tipstream.db")
	}

	st, err := store.New(path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	if err := applyStoredSettings(cfg, st); err != nil {
		log.Fatalf("Failed to apply stored settings: %v", err)
	}

	// Flags win over stored settings and the config file.
	if *mode != "" {
		cfg.Tracking.Mode = tracking.Mode(*mode)
	}
	if *transport != "" {
		cfg.Transport.Kind = *transport
	}
	if *address != "" {
		cfg.Transport.Address = *address
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *verbose {
		cfg.Tracking.Verbose = true
	}

	a, err := app.New(app.Config{Settings: cfg, Store: st})
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		stop()
		st.Close()
		log.Fatalf("Tracking failed: %v", err)
	}
}

func applyStoredSettings(cfg *config.Config, st *store.Store) error {
	stored, err := st.Settings().List()
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}

	values := make(map[string]string, len(stored))
	for _, s := range stored {
		values[s.Key] = s.Value
	}
	if err := cfg.ApplySettings(values); err != nil {
		return err
	}
	log.Printf("Applied %d stored settings", len(stored))
	return nil
}
