package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wandabot/internal/agent"
	"wandabot/internal/bus"
	"wandabot/internal/channel"
	"wandabot/internal/config"
	"wandabot/internal/domain"
	"wandabot/internal/provider"
	"wandabot/internal/store"
	"wandabot/internal/webhook"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "wandabot",
		Short: "Wandabot: WhatsApp relay for the Wandinha assistant",
		Long:  "Wandabot receives chat webhooks, relays messages to a generative oracle with a fixed persona, and sends the replies back. Parsed actions land in a SQLite ledger for a downstream executor.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.wandabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook relay",
		Long:  "Starts the webhook server, the enabled channels and the relay loop. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOut := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stderr, f)
	}
	logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	// Action ledger and delivery audit trail
	var sink domain.ActionSink
	var deliveries domain.DeliveryLogger
	var actionStore *store.SQLiteStore
	if cfg.Store.Enabled {
		actionStore, err = store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("action store: %w", err)
		}
		defer actionStore.Close()
		sink = actionStore
		deliveries = actionStore
		logger.Info("action store ready", "path", cfg.Store.DBPath)
	}

	// Oracle
	provFactory := provider.NewFactory(cfg, logger)
	oracle, err := provFactory.Oracle()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if err := oracle.Healthy(ctx); err != nil {
		logger.Warn("oracle unhealthy at startup", "provider", oracle.Name(), "error", err)
	} else {
		logger.Info("oracle healthy", "provider", oracle.Name())
	}

	// Persona
	persona, err := agent.LoadPersona(cfg.Persona.File)
	if err != nil {
		return fmt.Errorf("persona: %w", err)
	}
	logger.Info("persona loaded", "name", persona.Name)

	// Relay loop
	providerCfg := cfg.Providers[cfg.General.DefaultProvider]
	relay := agent.NewRelay(agent.RelayConfig{
		Bus:           messageBus,
		Oracle:        oracle,
		Sink:          sink,
		Persona:       persona,
		Model:         providerCfg.DefaultModel,
		MaxTokens:     cfg.General.MaxTokens,
		Temperature:   cfg.General.Temperature,
		OracleTimeout: time.Duration(cfg.General.OracleTimeoutSeconds) * time.Second,
		Logger:        logger,
	})
	go relay.Run(ctx)

	// Webhook server
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	srv := webhook.NewServer(webhook.ServerConfig{
		Host:        cfg.Webhook.Host,
		Port:        cfg.Webhook.Port,
		Path:        cfg.Webhook.Path,
		Channel:     "evolution",
		VerifyToken: cfg.Webhook.VerifyToken,
		Secret:      cfg.Webhook.Secret,
		MetricsPath: metricsPath,
		Logger:      logger,
	})

	// Channels
	sendTimeout := time.Duration(cfg.General.SendTimeoutSeconds) * time.Second
	if cfg.Channels.Evolution.Enabled {
		evo := channel.NewEvolution(channel.EvolutionChannelConfig{
			Config:      cfg.Channels.Evolution,
			SendTimeout: sendTimeout,
			Deliveries:  deliveries,
			Logger:      logger,
		})
		if err := evo.Start(ctx, messageBus); err != nil {
			return fmt.Errorf("evolution channel: %w", err)
		}
	} else {
		logger.Info("evolution channel disabled: webhook replies will be dropped unless another sender handles them")
	}

	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config:      cfg.Channels.WhatsApp,
			VerifyToken: cfg.Webhook.VerifyToken,
			SendTimeout: sendTimeout,
			Deliveries:  deliveries,
			Logger:      logger,
		})
		if err := wa.Start(ctx, messageBus); err != nil {
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		webhookPath := cfg.Channels.WhatsApp.WebhookPath
		if webhookPath == "" {
			webhookPath = "/webhook/whatsapp"
		}
		srv.Mount(webhookPath, wa.Handler())
		logger.Info("whatsapp channel enabled", "webhook", webhookPath)
	}

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramChannelConfig{
			Token:       cfg.Channels.Telegram.Token,
			AllowFrom:   cfg.Channels.Telegram.AllowFrom,
			ParseMode:   cfg.Channels.Telegram.ParseMode,
			SendTimeout: sendTimeout,
			Deliveries:  deliveries,
			Logger:      logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "error", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	logger.Info("wandabot started", "version", version)

	serveErr := srv.Start(ctx, messageBus)

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
	}

	return serveErr
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			prov := factory.HealthyProvider(ctx)
			if prov != nil {
				logger.Info("oracle", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("oracle", "healthy", false)
			}

			if cfg.Store.Enabled {
				actionStore, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
				if err != nil {
					logger.Warn("action store unavailable", "error", err)
					return nil
				}
				defer actionStore.Close()
				pending, processed, err := actionStore.Stats(ctx)
				if err != nil {
					logger.Warn("action store stats failed", "error", err)
					return nil
				}
				logger.Info("actions", "pending", pending, "processed", processed)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. webhook.port 9000)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
