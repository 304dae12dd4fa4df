package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/auth"
	"github.com/parking-reservation/backend/internal/config"
)

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := config.NewViper()

	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		if err := config.LoadDotEnv(); err != nil {
			return nil, err
		}
		return config.Load(v, cmd.Flags())
	}

	serve := func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg, withLevel(baseLogger, cfg.LogLevel))
	}

	cmd := &cobra.Command{
		Use:           "parkd",
		Short:         "parkd serves parking lots, slot bookings and live slot updates",
		SilenceErrors: true,
		Example: `
  # Serve on :8080 with data under ./data
  PARKD_JWT_SECRET=change-me parkd

  # Relay slot updates between instances through Redis
  parkd serve --jwt-secret change-me --redis-addr localhost:6379

  # Mint an admin token for local testing
  parkd token --jwt-secret change-me --id admin --role ADMIN
`,
		RunE: serve,
	}
	config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE:  serve,
		},
		newTokenCommand(loadConfig),
		newHealthCheckCommand(loadConfig),
		newVersionCommand(),
	)
	return cmd
}

func withLevel(logger pslog.Logger, levelName string) pslog.Logger {
	levelName = strings.TrimSpace(levelName)
	if levelName == "" {
		return logger
	}
	if level, ok := pslog.ParseLevel(levelName); ok {
		return logger.LogLevel(level)
	}
	logger.Warn("config.log_level.invalid", "value", levelName)
	return logger
}

func newTokenCommand(loadConfig func(*cobra.Command) (*config.Config, error)) *cobra.Command {
	var (
		id       string
		username string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for development and testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.JWTSecret) == "" {
				return fmt.Errorf("jwt-secret is required to sign tokens")
			}
			parsed, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			token, err := auth.NewTokenVerifier(cfg.JWTSecret).Issue(auth.Identity{
				ID:       id,
				Username: username,
				Role:     parsed,
			}, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "identity id (token subject)")
	cmd.Flags().StringVar(&username, "username", "", "display name carried in the token")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "role: USER or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the parkd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ver := version
			if envVer := os.Getenv("VERSION"); envVer != "" {
				ver = envVer
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "parkd %s\n", ver)
			return err
		},
	}
}
