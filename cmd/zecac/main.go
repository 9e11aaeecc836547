package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/internal/repo"
	"github.com/gregolima/zeca/pkg/models"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "zecac",
		Usage: "Zeca operator client (direct store access)",
		Commands: []*cli.Command{
			{
				Name:  "triggers",
				Usage: "Trigger rule operations",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List all trigger rules",
						Action: triggersListAction,
					},
				},
			},
			{
				Name:  "schedules",
				Usage: "Schedule rule operations",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List all schedule rules",
						Action: schedulesListAction,
					},
					{
						Name:   "resync",
						Usage:  "Clear persisted registration refs; the service re-registers active rules on startup",
						Action: schedulesResyncAction,
					},
				},
			},
			{
				Name:  "phrases",
				Usage: "Phrase pool operations",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Add a phrase to the random pool",
						ArgsUsage: "<text>",
						Action:    phrasesAddAction,
					},
				},
			},
			{
				Name:  "send",
				Usage: "Send queue operations",
				Subcommands: []*cli.Command{
					{
						Name:  "test",
						Usage: "Run a test request through the send dispatcher",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "group",
								Aliases: []string{"g"},
								Usage:   "Destination conversation id (defaults to the configured group)",
							},
							&cli.StringFlag{
								Name:  "text",
								Value: "Teste do zecac.",
								Usage: "Message text",
							},
						},
						Action: sendTestAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withRepo loads config, opens a pgx pool and runs fn against the repository.
func withRepo(fn func(ctx context.Context, cfg *config.Config, r *repo.Repository) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, repo.New(pool))
}

func triggersListAction(c *cli.Context) error {
	return withRepo(func(ctx context.Context, cfg *config.Config, r *repo.Repository) error {
		list, err := r.ListTriggers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list triggers: %w", err)
		}

		fmt.Printf("Found %d triggers:\n", len(list))
		for _, t := range list {
			state := "active"
			if !t.Active {
				state = "inactive"
			}
			fmt.Printf("\n--- Trigger %d ---\n", t.ID)
			fmt.Printf("Name: %s (%s)\n", t.Name, state)
			fmt.Printf("Match: %s %v\n", t.MatchType, t.Phrases)
			fmt.Printf("Response: %s\n", t.ResponseType)
			fmt.Printf("Chance: %d%%  Uses: %d\n", t.ChancePercent, t.TriggeredCount)
			if t.CooldownSeconds > 0 || t.CooldownPerUserSeconds > 0 {
				fmt.Printf("Cooldowns: rule %ds, per-user %ds\n", t.CooldownSeconds, t.CooldownPerUserSeconds)
			}
		}
		return nil
	})
}

func schedulesListAction(c *cli.Context) error {
	return withRepo(func(ctx context.Context, cfg *config.Config, r *repo.Repository) error {
		list, err := r.ListSchedules(ctx)
		if err != nil {
			return fmt.Errorf("failed to list schedules: %w", err)
		}

		fmt.Printf("Found %d schedules:\n", len(list))
		for _, s := range list {
			state := "active"
			if !s.Active {
				state = "inactive"
			}
			recurrence := s.Time
			if s.UseCronOverride {
				recurrence = s.Cron
			}
			fmt.Printf("\n--- Schedule %d ---\n", s.ID)
			fmt.Printf("Name: %s (%s)\n", s.Name, state)
			fmt.Printf("Type: %s  Caption: %s\n", s.Type, s.CaptionMode)
			fmt.Printf("Recurrence: %s  Days: %v  TZ: %s\n", recurrence, s.DaysOfWeek, s.Timezone)
			fmt.Printf("Registration: %d\n", s.RegistrationID)
		}
		return nil
	})
}

func schedulesResyncAction(c *cli.Context) error {
	return withRepo(func(ctx context.Context, cfg *config.Config, r *repo.Repository) error {
		if err := r.ClearAllScheduleRegistrations(ctx); err != nil {
			return err
		}
		fmt.Println("Cleared all schedule registration refs. Restart the service to re-register active rules.")
		return nil
	})
}

func phrasesAddAction(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("phrase text is required")
	}

	return withRepo(func(ctx context.Context, cfg *config.Config, r *repo.Repository) error {
		if err := r.AddPhrase(ctx, text); err != nil {
			return err
		}
		fmt.Printf("Phrase added: %s\n", text)
		return nil
	})
}

// sendTestAction exercises the full enqueue path against a local broker:
// defaults, marshalling and the publish timeout all run for real, so a
// misconfigured payload fails here instead of in the service.
func sendTestAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(slogger))
	dispatcher := queue.New(pubSub, cfg, slogger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := &models.SendRequest{
		GroupID: c.String("group"),
		Type:    models.KindText,
		Content: c.String("text"),
	}
	if err := dispatcher.Enqueue(ctx, req, queue.Options{}); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	fmt.Printf("Enqueued test send to %s: %s\n", req.GroupID, req.Content)
	return nil
}
