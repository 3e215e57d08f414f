package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"seminarhub/internal/attendance"
	"seminarhub/internal/audit"
	"seminarhub/internal/auth"
	"seminarhub/internal/bootstrap"
	"seminarhub/internal/config"
	"seminarhub/internal/logging"
	"seminarhub/internal/postgrest"
	"seminarhub/internal/qr"
	"seminarhub/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "seminarctl",
	Short: "Operator tooling for the seminar API",
	Long: `seminarctl applies the database schema, checks the environment the API
would start with, renders participant QR codes, and reads attendance and
API logs from the store.

Settings are read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables in DATABASE_URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Report missing or unusable settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		out := cmd.OutOrStdout()
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(out, "environment: %s\nstore backend: %s\n", cfg.Env, cfg.StoreBackend)

		if missing := cfg.MissingStoreSettings(); len(missing) > 0 {
			return fmt.Errorf("store not configured, missing %v", missing)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		switch cfg.StoreBackend {
		case config.BackendPostgREST:
			info, err := auth.InspectServiceKey(cfg.SupabaseKey, time.Now())
			if err != nil {
				fmt.Fprintf(out, "warning: %v\n", err)
			} else {
				fmt.Fprintf(out, "service key role: %s\n", info.Role)
				for _, w := range info.Warnings {
					fmt.Fprintf(out, "warning: %s\n", w)
				}
			}
			if err := postgrest.New(cfg.SupabaseURL, cfg.SupabaseKey, cfg.StoreTimeout).Health(ctx); err != nil {
				return fmt.Errorf("supabase unreachable: %w", err)
			}
		case config.BackendPostgres:
			db, err := store.NewDB(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			_ = db.Close()
		}
		fmt.Fprintln(out, "store reachable")

		if cfg.RedisAddr != "" {
			r := store.NewRedis(cfg.RedisAddr)
			defer r.Close()
			if !r.Healthy(ctx) {
				return fmt.Errorf("redis unreachable at %s", cfg.RedisAddr)
			}
			fmt.Fprintln(out, "redis reachable")
		}
		fmt.Fprintf(out, "cloudinary configured: %t\n", cfg.CloudinaryConfigured())
		return nil
	},
}

var logLimit int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the most recent API log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			rows, err := audit.Recent(ctx, st, logLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				fmt.Fprintf(out, "%s %s %s %s %s\n", r.String("timestamp"), r.String("method"), r.String("endpoint"), r.String("status_code"), r.String("error_message"))
			}
			return nil
		})
	},
}

var presentCmd = &cobra.Command{
	Use:   "present [seminar-id]",
	Short: "List participants who timed in but have not timed out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			rows, err := attendance.NewRepository(st).Open(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				fmt.Fprintf(out, "%s\t%s\n", r.String("participant_email"), r.String("time_in"))
			}
			fmt.Fprintf(out, "%d present\n", len(rows))
			return nil
		})
	},
}

// withStore opens the configured store for one command.
func withStore(cmd *cobra.Command, fn func(context.Context, store.Store) error) error {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	handle, closeStore, err := bootstrap.Store(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	st, err := handle.Get()
	if err != nil {
		return err
	}
	return fn(ctx, st)
}

var qrSize int

var qrCmd = &cobra.Command{
	Use:   "qr [seminar-id] [participant-email] [output.png]",
	Short: "Write a participant attendance QR code",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		img, err := qr.PNG(cfg.QRBaseURL, qr.Payload{SeminarID: args[0], ParticipantEmail: args[1]}, qrSize)
		if err != nil {
			return fmt.Errorf("encode qr: %w", err)
		}
		if err := os.WriteFile(args[2], img, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[2])
		return nil
	},
}

func init() {
	qrCmd.Flags().IntVar(&qrSize, "size", qr.DefaultSize, "image size in pixels")
	logsCmd.Flags().IntVar(&logLimit, "limit", 50, "number of entries")
	rootCmd.AddCommand(migrateCmd, checkConfigCmd, qrCmd, logsCmd, presentCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
