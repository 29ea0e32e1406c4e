// Command ticketctl provisions accounts and inspects the event dead-letter list.
//
//	ticketctl seed-user --email ops@example.com --role admin --password '...' [--name Ops]
//	ticketctl dead-letters list [--limit 20]
//	ticketctl dead-letters replay [--limit 20]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/helpdeskhq/ticket-triage/internal/config"
	"github.com/helpdeskhq/ticket-triage/internal/events"
	"github.com/helpdeskhq/ticket-triage/internal/observability"
	"github.com/helpdeskhq/ticket-triage/internal/persistence"
	"github.com/helpdeskhq/ticket-triage/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ticketctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "seed-user":
		return seedUser(ctx, cfg, logger, args[1:])
	case "dead-letters":
		if len(args) < 2 {
			return errors.New("dead-letters: expected list or replay")
		}
		return deadLetters(ctx, cfg, logger, args[1], args[2:])
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ticketctl seed-user --email EMAIL --role ROLE --password PASSWORD [--name NAME]")
	fmt.Fprintln(os.Stderr, "       ticketctl dead-letters list|replay [--limit N]")
}

func seedUser(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	flags := pflag.NewFlagSet("seed-user", pflag.ContinueOnError)
	email := flags.String("email", "", "account email")
	name := flags.String("name", "", "display name")
	role := flags.String("role", "admin", "user, moderator or admin")
	password := flags.String("password", "", "password (at least 8 characters)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	backend, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   backend.Store.Users,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	user, err := authService.SeedUser(ctx, service.SeedUserInput{
		Email:    *email,
		FullName: *name,
		Password: *password,
		Role:     *role,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\n", user.ID, user.Email, user.Role)
	return nil
}

func deadLetters(ctx context.Context, cfg *config.Config, logger *zap.Logger, action string, args []string) error {
	flags := pflag.NewFlagSet("dead-letters "+action, pflag.ContinueOnError)
	limit := flags.Int("limit", 20, "maximum number of entries")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if cfg.Events.Transport != config.EventsTransportRedis {
		return errors.New("dead letters are only persisted with EVENTS_TRANSPORT=redis")
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redis.Close()
	queue := events.NewRedisQueue(redis.Client, cfg.Events.QueuePrefix, cfg.Events.VisibilityTimeout())

	switch action {
	case "list":
		entries, err := queue.DeadLetters(ctx, *limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "replay":
		n, err := queue.Requeue(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d deliveries\n", n)
		return nil
	default:
		return fmt.Errorf("dead-letters: unknown action %q", action)
	}
}
