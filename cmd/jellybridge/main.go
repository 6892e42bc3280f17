package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"jellybridge/internal/bridge"
	"jellybridge/internal/crypto"
	"jellybridge/internal/hub"
	"jellybridge/internal/store"
)

const driverVersion = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	dbPath := envOr("DB_PATH", "./data/jellybridge.db")
	listenAddr := envOr("LISTEN_ADDR", ":9090")
	passphrase := os.Getenv("CONFIG_PASSPHRASE")
	hubToken := os.Getenv("HUB_AUTH_TOKEN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	var storeOpts []store.Option
	if passphrase != "" {
		enc, err := crypto.NewEncryptorFromPassphrase(passphrase)
		if err != nil {
			log.Fatalf("initializing encryption: %v", err)
		}
		storeOpts = append(storeOpts, store.WithEncryptor(enc))
	} else {
		log.Println("CONFIG_PASSPHRASE not set, credentials stored in plain text")
	}

	s, err := store.New(dbPath, storeOpts...)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	hubOpts := []hub.Option{hub.WithDriverInfo("jellybridge", driverVersion)}
	if hubToken != "" {
		hubOpts = append(hubOpts, hub.WithAuthToken(hubToken))
	}
	hubServer := hub.NewServer(hubOpts...)

	b := bridge.New(hubServer, s)
	hubServer.SetListener(b)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           hubServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("Jellybridge listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
