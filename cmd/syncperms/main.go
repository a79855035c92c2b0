package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"opsdesk.org/internal/audit"
	"opsdesk.org/internal/authz"
	"opsdesk.org/internal/config"
	"opsdesk.org/internal/ids"
	"opsdesk.org/internal/store/pg"
)

// syncperms reconciles the persisted permission catalog with the one
// declared in code. Run at deploy time, before the new API starts.
func main() {
	log.SetFlags(0)
	pruneAudit := flag.Bool("prune-audit", false, "also delete audit entries older than the retention window")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("missing OPSDESK_PG_DSN")
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	recorder, err := audit.NewService(store.AuditLogs(), ids.New)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}
	syncer, err := authz.NewSynchronizer(store, recorder)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := syncer.Sync(ctx)
	if err != nil {
		log.Fatalf("catalog sync: %v", err)
	}
	fmt.Printf("upserted %d, deleted %d\n", res.Upserted, res.Deleted)

	if *pruneAudit {
		if cfg.AuditRetentionDays <= 0 {
			log.Fatal("prune-audit requires OPSDESK_AUDIT_RETENTION_DAYS > 0")
		}
		removed, err := recorder.Prune(ctx, cfg.AuditRetentionDays)
		if err != nil {
			log.Fatalf("audit prune: %v", err)
		}
		fmt.Printf("pruned %d audit entries\n", removed)
	}
}
