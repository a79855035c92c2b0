package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/mail"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/onboarding"
	"opsdesk.org/internal/store/pg"
	"opsdesk.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("missing OPSDESK_PG_DSN")
	}
	if cfg.AuthSecret == "" {
		log.Fatal("missing OPSDESK_AUTH_SECRET")
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	recorder, err := audit.NewService(store.AuditLogs(), ids.New)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	sessions, err := identity.NewService(store.Accounts(), cfg.AuthSecret,
		identity.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	resolver, err := authz.NewResolver(sessions, store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	roles, err := authz.NewRoleService(store, recorder)
	if err != nil {
		log.Fatalf("roles: %v", err)
	}

	tokens, err := token.NewService(store.Tokens(), recorder,
		token.WithInvitationTTL(cfg.InvitationTTL),
		token.WithPasswordResetTTL(cfg.PasswordResetTTL))
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	onboarder, err := onboarding.NewService(store, tokens, sessions, mail.LogDispatcher{}, cfg.SiteURL)
	if err != nil {
		log.Fatalf("onboarding: %v", err)
	}

	// Reconcile the persisted catalog with the code-declared one on boot so
	// a deploy never serves permissions its handlers do not know about.
	syncer, err := authz.NewSynchronizer(store, recorder)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	syncCtx, cancelSync := context.WithTimeout(context.Background(), 30*time.Second)
	res, err := syncer.Sync(syncCtx)
	cancelSync()
	if err != nil {
		log.Fatalf("catalog sync: %v", err)
	}
	log.Printf("catalog sync: %d upserted, %d deleted", res.Upserted, res.Deleted)

	api := httpapi.New(sessions, resolver, roles, onboarder, recorder,
		httpapi.ReadyProbe{DB: store.DB()}, version)

	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()

	handler := httpapi.RateLimit(serveCtx, api.Handler(), 20, 10)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdesk-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
