package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"opsdesk.org/internal/identity"
	"opsdesk.org/internal/migrate"
	"opsdesk.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("OPSDESK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or OPSDESK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = runner.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var reverted string
		reverted, err = runner.Down(ctx)
		if err == nil {
			fmt.Println("reverted", reverted)
		}
	case "seed":
		var applied []string
		applied, err = runner.Seed(ctx)
		for _, name := range applied {
			fmt.Println("seeded", name)
		}
	case "bootstrap":
		// Takes ownership of the seeded passwordless admin account. The
		// password comes from the environment so it never lands in shell
		// history via argv.
		email := os.Getenv("OPSDESK_BOOTSTRAP_EMAIL")
		if email == "" {
			email = "admin@opsdesk.local"
		}
		password := os.Getenv("OPSDESK_BOOTSTRAP_PASSWORD")
		if password == "" {
			log.Fatal("missing OPSDESK_BOOTSTRAP_PASSWORD")
		}
		err = identity.BootstrapPassword(ctx, pg.NewStore(db).Accounts(), email, password)
		if err == nil {
			fmt.Println("bootstrapped", email)
		}
	case "status":
		var history []string
		history, err = runner.Applied(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
