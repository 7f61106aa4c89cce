package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"helpdesk.org/internal/migrate"
	"helpdesk.org/internal/obs"
	"helpdesk.org/internal/store/pg"
	"helpdesk.org/ops/migrations"
)

const usage = "usage: migrate [flags] up|down|seed|status"

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	var (
		dsn            = flags.String("dsn", os.Getenv("HELPDESK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flags.String("migrations", "", "read migrations from this directory instead of the embedded set")
		seedsPath      = flags.String("seeds", "", "read seeds from this directory instead of the embedded set")
		timeout        = flags.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	log, err := obs.NewLogger("dev", "info", "helpdesk-migrate")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or HELPDESK_PG_DSN")
	}
	if flags.NArg() == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := pg.Open(ctx, *dsn, pg.Options{MaxOpenConns: 2})
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var sqlFS, seedFS fs.FS = migrations.SQL(), migrations.Seeds()
	if *migrationsPath != "" {
		sqlFS = os.DirFS(*migrationsPath)
	}
	if *seedsPath != "" {
		seedFS = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(db, sqlFS, migrate.WithSeeds(seedFS), migrate.WithLogger(log))

	cmd := flags.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			log.Info("up complete", zap.Int("applied", len(applied)))
		}
	case "down":
		_, err = mgr.Down(ctx)
	case "seed":
		_, err = mgr.Seed(ctx)
	case "status":
		var status []migrate.Migration
		status, err = mgr.Status(ctx)
		for _, m := range status {
			state := "pending"
			if m.Applied {
				state = "applied " + m.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%-40s %s\n", m.Name, state)
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
