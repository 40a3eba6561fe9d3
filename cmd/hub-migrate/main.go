// hub-migrate applies the hub's embedded SQL migrations, or reports their
// status without applying anything, mirroring the teacher's small
// single-purpose cmd/bls-zk-setup utility binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/creditmesh/hub/pkg/config"
	"github.com/creditmesh/hub/pkg/database"
)

func main() {
	var (
		statusOnly = flag.Bool("status", false, "Print migration status without applying anything")
		showHelp   = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(database.Config{
		DatabaseURL:         cfg.DatabaseURL,
		DatabaseMaxConns:    cfg.DatabaseMaxConns,
		DatabaseMinConns:    cfg.DatabaseMinConns,
		DatabaseMaxIdleTime: cfg.DatabaseMaxIdleTime,
		DatabaseMaxLifetime: cfg.DatabaseMaxLifetime,
	}, database.WithLogger(log.New(os.Stdout, "[hub-migrate] ", log.LstdFlags)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *statusOnly {
		status, err := dbClient.MigrationStatus(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read migration status: %v\n", err)
			os.Exit(1)
		}
		pending := 0
		for _, entry := range status {
			state := "applied"
			if !entry.Applied {
				state = "pending"
				pending++
			}
			fmt.Printf("%-40s %s\n", entry.Version, state)
		}
		if pending > 0 {
			fmt.Printf("%d migration(s) pending\n", pending)
			os.Exit(1)
		}
		fmt.Println("all migrations applied")
		return
	}

	if err := dbClient.MigrateUp(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: migration failed: %v\n", err)
		os.Exit(1)
	}
}
