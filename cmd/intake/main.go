package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/intake/internal/config"
	"github.com/memohai/intake/internal/db"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "intake",
		Short:   "Store support intake bot",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("config", "", "path to config.toml (defaults to $CONFIG_PATH or ./config.toml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			runServe(configPath(path))
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply or roll back the database schema",
		Long:      "Apply all pending migrations (up), roll back one step (down), or print the current schema version.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath(path))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if args[0] == "version" {
				version, dirty, err := db.Version(cfg.Postgres)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			}
			if err := db.Migrate(cfg.Postgres, args[0]); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", args[0])
			return nil
		},
	}
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}
