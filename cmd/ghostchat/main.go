package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ghostchat/internal/config"
	"ghostchat/internal/console"
	"ghostchat/internal/domain"
	"ghostchat/internal/player"
	"ghostchat/internal/session"
	"ghostchat/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

// Chat ids shorter than this are too guessable to act as a shared secret.
const minChatIDLen = 4

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "ghostchat",
		Short: "ghostchat: anonymous terminal chat over a shared message store",
		Long:  "ghostchat joins shared chat rooms identified by a secret chat id and syncs text, image and voice messages through a pluggable store backend.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.ghostchat/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(createCmd())
	root.AddCommand(joinCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())

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

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config (run 'ghostchat init' first): %w", err)
	}
	// The configured level must reach everything built afterward, store
	// adapters included.
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create config with a fresh device identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				// Re-running init must not rotate the device identity.
				logger.Info("config already exists", "path", cfgPath)
				return nil
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "device", cfg.Identity.DeviceID)
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [chat-id]",
		Short: "Create a new chat and enter it",
		Long:  "Registers a chat id and opens the conversation. With no argument a random id is generated.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := uuid.NewString()
			if len(args) == 1 {
				chatID = strings.TrimSpace(args[0])
				if len(chatID) < minChatIDLen {
					return fmt.Errorf("chat id must be at least %d characters", minChatIDLen)
				}
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CreateChat(ctx, chatID); err != nil {
				return fmt.Errorf("create chat: %w", err)
			}
			fmt.Printf("Share this chat id with the other side:\n\n  %s\n\n", chatID)
			return runChat(ctx, cfg, st, chatID)
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <chat-id>",
		Short: "Join an existing chat by its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := strings.TrimSpace(args[0])
			if len(chatID) < minChatIDLen {
				return fmt.Errorf("chat id must be at least %d characters", minChatIDLen)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ok, err := st.Exists(ctx, chatID)
			if err != nil {
				return fmt.Errorf("check chat: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: no chat with that id", domain.ErrChatNotFound)
			}
			return runChat(ctx, cfg, st, chatID)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ghostchat", version)
		},
	}
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLite.Path, logger)
	case "firestore":
		return store.NewFirestore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.Store.Firestore.ProjectID,
			CredentialsFile: cfg.Store.Firestore.CredentialsFile,
			Logger:          logger,
		})
	case "redis":
		return store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func runChat(ctx context.Context, cfg *config.Config, st domain.Store, chatID string) error {
	var pl domain.Player
	if p, err := player.NewExec(cfg.Player.Command, logger); err != nil {
		// Text and images still work without a player binary.
		logger.Warn("audio playback unavailable", "err", err)
	} else {
		pl = p
	}

	sess, err := session.Open(ctx, session.Config{
		ChatID:          chatID,
		SenderID:        cfg.Identity.DeviceID,
		Store:           st,
		Player:          pl,
		MaxPayloadBytes: cfg.Media.MaxPayloadBytes,
		TempDir:         cfg.Media.TempDir,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	ui := console.New(console.Config{
		Session: sess,
		In:      os.Stdin,
		Out:     os.Stdout,
		Logger:  logger,
	})
	return ui.Run(ctx)
}
