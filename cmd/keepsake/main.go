package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/semmidev/keepsake/internal/app"
	"github.com/semmidev/keepsake/internal/config"
)

const usage = `usage: keepsake [-config path] <command> [args]

commands:
  run                                   start the scheduler daemon (default)
  status    <resource>                  show policy, last runs and next due time
  backups   <resource>                  list the backup ledger, newest first
  rollbacks <resource>                  list rollbacks
  trigger   <resource>                  run a backup now and wait for it
  rollback  <resource> <backup> [reason] restore a resource from a backup
`

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	args := flag.Args()
	if len(args) == 0 || args[0] == "run" {
		return application.Run(ctx)
	}

	return runCommand(ctx, application, os.Stdout, args)
}
