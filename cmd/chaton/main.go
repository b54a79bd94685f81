// chaton is a small social network with realtime direct messages.
//
// It reads configuration from chaton.json in the working directory (or
// the file given with -config) plus CHATON_* environment overrides,
// connects to PostgreSQL, applies schema migrations, and starts an HTTP
// server with the REST API, the WebSocket relay and uploaded avatars.
//
// Usage:
//
//	./chaton                          # reads ./chaton.json, starts server
//	./chaton -config /etc/chaton.json
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/auth"
	"github.com/primal-host/chaton/internal/blob"
	"github.com/primal-host/chaton/internal/config"
	"github.com/primal-host/chaton/internal/content"
	"github.com/primal-host/chaton/internal/database"
	"github.com/primal-host/chaton/internal/message"
	"github.com/primal-host/chaton/internal/relay"
	"github.com/primal-host/chaton/internal/server"
	"github.com/primal-host/chaton/internal/social"
)

const sessionPurgeInterval = 15 * time.Minute

func main() {
	configPath := flag.String("config", "chaton.json", "Path to the JSON config file")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("chaton starting...")

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (listen=%s db=%s/%s relay=%s)", cfg.ListenAddr, cfg.DBConn, cfg.DBName, cfg.RelayScope)

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	// Connect to PostgreSQL and run migrations.
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected, migrations applied")

	avatars, err := blob.NewStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to prepare upload directory: %v", err)
	}

	accounts := account.NewStore(db, avatars)
	messages := message.NewStore(db)

	sessions := auth.NewManager(db, auth.NewTokenSigner(cfg.SessionSecret, "chaton"), cfg.Lifetime())
	go sessions.RunJanitor(ctx, sessionPurgeInterval)

	hub := relay.NewHub(accounts, messages, cfg.RelayScope, cfg.AllowedOrigins)

	// Start the HTTP server (blocks until context is cancelled).
	srv := server.New(cfg, server.Deps{
		Accounts: accounts,
		Graph:    social.NewStore(db),
		Content:  content.NewStore(db),
		History:  messages,
		Sessions: sessions,
		Avatars:  avatars,
		Relay:    hub,
	})
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("chaton stopped")
}
