package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lootmore/lootmore-server/internal/app"
	"github.com/lootmore/lootmore-server/internal/config"

	log "github.com/sirupsen/logrus"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [command] [flags]

Commands:
  serve           Run the callout server (default)
  migrate         Open the database and run migrations
  token create    Issue a new token and print the raw value once
  token list      List tokens with quota state
  token revoke    Revoke a token by id

Flags:
  -config PATH    Config file path (default "config.yaml")
`, os.Args[0])
}

func main() {
	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, args)
	case "migrate":
		err = runMigrate(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal("command failed")
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, []string, error) {
	configPath := fs.String("config", "config.yaml", "config file path")
	if errParse := fs.Parse(args); errParse != nil {
		return nil, nil, errParse
	}
	cfg, errLoad := config.Load(*configPath)
	if errLoad != nil {
		return nil, nil, errLoad
	}
	return cfg, fs.Args(), nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg, _, errLoad := loadConfig(fs, args)
	if errLoad != nil {
		return errLoad
	}
	return app.RunServer(ctx, cfg)
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfg, _, errLoad := loadConfig(fs, args)
	if errLoad != nil {
		return errLoad
	}
	if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
		return errMigrate
	}
	fmt.Println("migrations applied")
	return nil
}

func runToken(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("token: missing subcommand")
	}
	sub := args[0]
	args = args[1:]

	fs := flag.NewFlagSet("token "+sub, flag.ContinueOnError)
	var (
		quotaFlag = fs.Int("quota", 0, "daily quota (create; 0 uses the configured default)")
		tierFlag  = fs.String("tier", "", "token tier (create)")
		idFlag    = fs.Uint64("id", 0, "token id (revoke)")
	)
	cfg, _, errLoad := loadConfig(fs, args)
	if errLoad != nil {
		return errLoad
	}

	switch sub {
	case "create":
		return app.TokenCreate(ctx, cfg, *quotaFlag, *tierFlag)
	case "list":
		return app.TokenList(ctx, cfg)
	case "revoke":
		if *idFlag == 0 {
			return fmt.Errorf("token revoke: -id is required")
		}
		return app.TokenRevoke(ctx, cfg, *idFlag)
	default:
		usage()
		return fmt.Errorf("token: unknown subcommand %q", sub)
	}
}
