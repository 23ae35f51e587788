package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/presenter"
	sqliteadapter "github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/edocval/internal/app"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/usecase"
)

func main() {
	cmd := &cli.Command{
		Name:  "edocval",
		Usage: "Validate XML business documents against XSD schemas and Schematron rules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("EDOCVAL_LOG_LEVEL"),
				Usage:   "Log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("EDOCVAL_LOG_FORMAT"),
				Usage:   "Log format: text or json",
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			serveCommand(),
			profilesCommand(),
			keysCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func newLogger(c *cli.Command) (*slog.Logger, error) {
	logger, err := app.NewLogger(os.Stderr, c.String("log-level"), c.String("log-format"))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "profiles-file",
			Sources: cli.EnvVars("EDOCVAL_PROFILES_FILE"),
			Usage:   "YAML file describing validation profiles (built-in profiles when empty)",
		},
		&cli.StringFlag{
			Name:    "rule-engine",
			Value:   app.RuleEngineNative,
			Sources: cli.EnvVars("EDOCVAL_RULE_ENGINE"),
			Usage:   "Schematron engine: native or xslt",
		},
		&cli.StringFlag{
			Name:    "xslt-command",
			Sources: cli.EnvVars("EDOCVAL_XSLT_COMMAND"),
			Usage:   "External processor command with {rules} and {document} placeholders",
		},
		&cli.DurationFlag{
			Name:    "xslt-timeout",
			Sources: cli.EnvVars("EDOCVAL_XSLT_TIMEOUT"),
			Usage:   "Execution timeout for the external processor",
		},
		&cli.BoolFlag{
			Name:    "skip-unsupported",
			Sources: cli.EnvVars("EDOCVAL_SKIP_UNSUPPORTED"),
			Usage:   "Skip rule expressions the native engine cannot compile instead of failing",
		},
		&cli.BoolFlag{
			Name:    "allow-missing-imports",
			Sources: cli.EnvVars("EDOCVAL_ALLOW_MISSING_IMPORTS"),
			Usage:   "Tolerate xs:import elements without schemaLocation",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Sources: cli.EnvVars("EDOCVAL_TIMEOUT"),
			Usage:   "Deadline for one validation run (0 disables it)",
		},
	}
}

func engineConfig(c *cli.Command) app.EngineConfig {
	return app.EngineConfig{
		ProfilesFile:        c.String("profiles-file"),
		RuleEngine:          c.String("rule-engine"),
		XSLTCommand:         c.String("xslt-command"),
		XSLTTimeout:         c.Duration("xslt-timeout"),
		SkipUnsupported:     c.Bool("skip-unsupported"),
		AllowMissingImports: c.Bool("allow-missing-imports"),
		Timeout:             c.Duration("timeout"),
	}
}

func validateCommand() *cli.Command {
	flags := append(engineFlags(),
		&cli.StringFlag{
			Name:    "profile",
			Value:   "peppol",
			Sources: cli.EnvVars("EDOCVAL_PROFILE"),
			Usage:   "Validation profile name",
		},
		&cli.StringFlag{
			Name:  "schema",
			Usage: "XSD file (overrides the profile schema)",
		},
		&cli.StringFlag{
			Name:  "rules-dir",
			Usage: "Directory holding the profile rule set (overrides the profile directory)",
		},
		&cli.StringFlag{
			Name:    "format",
			Value:   string(presenter.FormatJSON),
			Sources: cli.EnvVars("EDOCVAL_FORMAT"),
			Usage:   "Output format: json, xml or csv",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Documents validated in parallel (defaults to the CPU count)",
		},
	)

	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate one or more documents and print the outcomes",
		ArgsUsage: "DOCUMENT...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			docs := c.Args().Slice()
			if len(docs) == 0 {
				return cli.Exit("at least one document is required", 2)
			}
			format, err := presenter.ParseFormat(c.String("format"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			v, err := app.NewValidation(engineConfig(c), logger)
			if err != nil {
				return err
			}
			profile, err := v.Profiles.Get(c.String("profile"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			schema := c.String("schema")
			if schema == "" {
				schema = profile.SchemaPath
			}
			rulesDir := c.String("rules-dir")
			if rulesDir == "" {
				rulesDir = profile.RuleSetDir
			}

			reqs := make([]usecase.Request, 0, len(docs))
			for _, doc := range docs {
				reqs = append(reqs, usecase.Request{
					Profile:      profile,
					DocumentPath: doc,
					SchemaPath:   schema,
					RuleSetDir:   rulesDir,
				})
			}
			outcomes := usecase.NewBatch(v.Pipeline, c.Int("concurrency")).Run(ctx, reqs)

			w := c.Root().Writer
			failed := false
			for i, outcome := range outcomes {
				if len(outcomes) > 1 {
					fmt.Fprintf(w, "==> %s <==\n", docs[i])
				}
				if err := presenter.Write(w, outcome, format); err != nil {
					return err
				}
				if outcome.Status() == domain.StatusError {
					failed = true
				}
			}
			if failed {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	flags := append(engineFlags(),
		&cli.StringFlag{
			Name:    "addr",
			Value:   ":8080",
			Sources: cli.EnvVars("EDOCVAL_ADDR"),
			Usage:   "HTTP listen address",
		},
		&cli.StringFlag{
			Name:    "schema",
			Sources: cli.EnvVars("EDOCVAL_SCHEMA"),
			Usage:   "XSD file for profiles that do not name one",
		},
		&cli.StringFlag{
			Name:    "rules-dir",
			Sources: cli.EnvVars("EDOCVAL_RULES_DIR"),
			Usage:   "Rule set directory for profiles that do not name one",
		},
		&cli.StringFlag{
			Name:    "db-path",
			Value:   "./edocval.sqlite",
			Sources: cli.EnvVars("EDOCVAL_DB_PATH"),
			Usage:   "SQLite file path",
		},
		&cli.Int64Flag{
			Name:    "max-document-size",
			Value:   32 << 20,
			Sources: cli.EnvVars("EDOCVAL_MAX_DOCUMENT_SIZE"),
			Usage:   "Largest accepted document in bytes",
		},
		&cli.BoolFlag{
			Name:    "open-access",
			Sources: cli.EnvVars("EDOCVAL_OPEN_ACCESS"),
			Usage:   "Serve /v1 without API keys",
		},
		&cli.StringFlag{
			Name:    "bootstrap-api-key",
			Sources: cli.EnvVars("EDOCVAL_BOOTSTRAP_API_KEY"),
			Usage:   "Optional API key to upsert at startup",
		},
		&cli.StringFlag{
			Name:    "bootstrap-client",
			Value:   "default",
			Sources: cli.EnvVars("EDOCVAL_BOOTSTRAP_CLIENT"),
			Usage:   "Client for the bootstrap API key",
		},
		&cli.StringFlag{
			Name:    "bootstrap-key-name",
			Value:   "bootstrap",
			Sources: cli.EnvVars("EDOCVAL_BOOTSTRAP_KEY_NAME"),
			Usage:   "Name for the bootstrap API key",
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Sources: cli.EnvVars("EDOCVAL_WEBHOOK_URL"),
			Usage:   "Target URL for validation.completed events",
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Sources: cli.EnvVars("EDOCVAL_WEBHOOK_SECRET"),
			Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
		},
		&cli.DurationFlag{
			Name:    "outbox-interval",
			Value:   2 * time.Second,
			Sources: cli.EnvVars("EDOCVAL_OUTBOX_INTERVAL"),
			Usage:   "Polling interval of the event dispatcher",
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the validation HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			engine := engineConfig(c)
			engine.DefaultSchema = c.String("schema")
			engine.DefaultRulesDir = c.String("rules-dir")
			cfg := app.Config{
				Engine:           engine,
				Addr:             c.String("addr"),
				DBPath:           c.String("db-path"),
				MaxDocumentSize:  c.Int64("max-document-size"),
				OpenAccess:       c.Bool("open-access"),
				BootstrapAPIKey:  c.String("bootstrap-api-key"),
				BootstrapClient:  c.String("bootstrap-client"),
				BootstrapKeyName: c.String("bootstrap-key-name"),
				WebhookURL:       c.String("webhook-url"),
				WebhookSecret:    c.String("webhook-secret"),
				OutboxInterval:   c.Duration("outbox-interval"),
			}

			server, closer, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					logger.Error("close resources", slog.Any("error", closeErr))
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", slog.String("addr", cfg.Addr))
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case sig := <-sigCh:
				logger.Info("received signal", slog.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "List the configured validation profiles",
		Flags: engineFlags(),
		Action: func(_ context.Context, c *cli.Command) error {
			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			v, err := app.NewValidation(engineConfig(c), logger)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(c.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMODE\tRULE SET\tDESCRIPTION")
			for _, p := range v.Profiles.List() {
				ruleSet := "-"
				if p.RulesEnabled() {
					ruleSet = p.RuleSetFile
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Mode, ruleSet, p.Description)
			}
			return tw.Flush()
		},
	}
}

func keysCommand() *cli.Command {
	dbFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "db-path",
			Value:   "./edocval.sqlite",
			Sources: cli.EnvVars("EDOCVAL_DB_PATH"),
			Usage:   "SQLite file path",
		}
	}

	withAuth := func(ctx context.Context, c *cli.Command, fn func(*usecase.AuthService, string) error) error {
		logger, err := newLogger(c)
		if err != nil {
			return err
		}
		if c.Args().Len() != 1 {
			return cli.Exit("exactly one TOKEN argument is required", 2)
		}
		db, err := app.OpenStore(ctx, c.String("db-path"), logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db)), c.Args().First())
	}

	return &cli.Command{
		Name:  "keys",
		Usage: "Manage API keys",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register an API key for a client",
				ArgsUsage: "TOKEN",
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{Name: "client", Required: true, Usage: "Client the key belongs to"},
					&cli.StringFlag{Name: "name", Usage: "Key name (defaults to the client)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withAuth(ctx, c, func(auth *usecase.AuthService, token string) error {
						key, err := auth.Register(ctx, token, c.String("client"), c.String("name"))
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(c.Root().Writer, "registered key %q for client %s\n", key.Name, key.Client)
						return err
					})
				},
			},
			{
				Name:      "revoke",
				Usage:     "Deactivate an API key",
				ArgsUsage: "TOKEN",
				Flags:     []cli.Flag{dbFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withAuth(ctx, c, func(auth *usecase.AuthService, token string) error {
						if err := auth.Revoke(ctx, token); err != nil {
							if errors.Is(err, domain.ErrNotFound) {
								return cli.Exit("unknown API key", 1)
							}
							return err
						}
						return nil
					})
				},
			},
		},
	}
}
