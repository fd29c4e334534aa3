package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/md-rashed-zaman/medibook/libs/db"
	"github.com/md-rashed-zaman/medibook/libs/runtime"
	"github.com/md-rashed-zaman/medibook/libs/schema"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/storage"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "booking-service",
		Short:         "Doctor directory and appointment booking API",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// openPool loads config and connects; used by the one-shot commands.
func openPool(ctx context.Context) (Config, *db.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Config{}, nil, err
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, schema.Migrations()).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, schema.Migrations()).Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
			for _, s := range statuses {
				applied := "pending"
				if s.Applied && s.AppliedAt != nil {
					applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, s.Name, applied)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the doctor directory when it is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := runtime.NewLogger(cfg.Service)
			rdb := newRedis(cfg)
			if rdb != nil {
				defer func() { _ = rdb.Close() }()
			}
			n, err := storage.NewDoctorRepository(pool, newDoctorCache(cfg, rdb, logger)).SeedIfEmpty(cmd.Context(), storage.SeedDoctors)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d doctor(s).\n", n)
			return nil
		},
	}
}
