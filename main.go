package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/handlers"
	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/middleware"
	"github.com/termweave/termweave/internal/terminal"
	"github.com/termweave/termweave/internal/tmux"
)

const auditRetention = 30 * 24 * time.Hour

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--hash-passphrase" {
		runHashPassphrase(os.Args[2:])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	logging.Init(cfg.LogPath)

	store, err := database.Open(filepath.Join(cfg.DataPath, "termweave.db"))
	if err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	dir := tmux.NewDirectory(cfg.Location, cfg.TmuxBinary)
	if err := dir.CheckBinary(ctx); err != nil {
		log.Fatalf("tmux check: %v", err)
	}
	log.Printf("tmux available at %q (location %s)", cfg.TmuxBinary, cfg.Location)

	termMgr := terminal.NewManager(dir.AttachCommand, cfg.ScrollbackSize)
	tokens := auth.NewTokenManager(cfg.SecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	limiter := auth.NewLoginLimiter(cfg.LoginMaxAttempts, cfg.LoginWindow)

	// Periodic maintenance: expired limiter windows and old audit rows.
	sched := cron.New()
	sched.AddFunc("@every 5m", func() { limiter.Sweep() })
	sched.AddFunc("@daily", func() {
		if n, err := store.Prune(auditRetention); err != nil {
			log.Printf("Audit prune: %v", err)
		} else if n > 0 {
			log.Printf("Audit prune: removed %d events", n)
		}
	})
	sched.Start()
	defer sched.Stop()

	authHandler := handlers.NewAuth(tokens, limiter, cfg.PassphraseHash, store)
	sessionsHandler := &handlers.Sessions{Dir: dir, Term: termMgr, Audit: store}
	terminalHandler := &handlers.Terminal{Tokens: tokens, Dir: dir, Term: termMgr, Audit: store}
	healthHandler := &handlers.Health{Dir: dir}
	auditHandler := &handlers.Audit{Store: store}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(tokens))

			r.Get("/sessions", sessionsHandler.List)
			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions/{name}", sessionsHandler.Get)
			r.Delete("/sessions/{name}", sessionsHandler.Delete)

			r.Get("/audit", auditHandler.Recent)
		})
	})

	// Terminal WebSocket. Browsers cannot attach headers to websocket
	// upgrades, so the handler verifies the token itself.
	r.Get("/ws/terminal/{name}", terminalHandler.Serve)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	termMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// runHashPassphrase prompts for a passphrase and prints its bcrypt hash,
// or writes a full secrets file when -out is given.
func runHashPassphrase(args []string) {
	fs := flag.NewFlagSet("hash-passphrase", flag.ExitOnError)
	out := fs.String("out", "", "Write a secrets file (with a generated secret key) instead of printing")
	fs.Parse(args)

	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("Read passphrase: %v", err)
	}
	if len(passphrase) == 0 {
		log.Fatal("Passphrase must not be empty")
	}

	hash, err := auth.HashPassphrase(string(passphrase))
	if err != nil {
		log.Fatalf("Hash passphrase: %v", err)
	}

	if *out == "" {
		fmt.Println(hash)
		return
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		log.Fatalf("Generate secret key: %v", err)
	}
	sec := config.Secrets{
		SecretKey:      hex.EncodeToString(keyBytes),
		PassphraseHash: hash,
	}
	if err := config.WriteSecrets(*out, sec); err != nil {
		log.Fatalf("Write secrets: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", *out)
}
