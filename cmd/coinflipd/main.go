package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/store/gormstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

const (
	envPrefix          = "COINFLIP"
	flagDatabaseURL    = "database-url"
	flagEnvFile        = "env-file"
	defaultDatabaseURL = "sqlite:///tmp/coinflip.db"
	defaultEnvFile     = ".env"
	gormSlowThreshold  = 500 * time.Millisecond
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinflipd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(viper.New())
}

func newRootCommandWith(v *viper.Viper) *cobra.Command {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "coinflipd",
		Short:         "Provably-fair coin-flip game engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, err := cmd.Flags().GetString(flagEnvFile)
			if err != nil {
				return err
			}
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			return v.BindPFlag(flagDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL))
		},
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path (env COINFLIP_DATABASE_URL)")
	cmd.PersistentFlags().String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading the environment")

	cmd.AddCommand(
		newServeCommand(v),
		newMigrateCommand(v),
		newPartnerCommand(v),
		newConfigCommand(v),
		newSimulationCommand(v),
		newSettleCommand(v),
		newAlertsCommand(v),
	)
	return cmd
}

// loadEnvFile reads path into the process environment; a missing default file is fine.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func databaseURL(v *viper.Viper) (string, error) {
	dsn := strings.TrimSpace(v.GetString(flagDatabaseURL))
	if dsn == "" {
		return "", fmt.Errorf("%s is required", flagDatabaseURL)
	}
	return dsn, nil
}

// openStore connects to the configured database. SQLite schemas are migrated
// on open; PostgreSQL schemas are owned by the migrate command.
func openStore(ctx context.Context, v *viper.Viper, zapLogger *zap.Logger) (gormstore.Database, *gormstore.Store, error) {
	dsn, err := databaseURL(v)
	if err != nil {
		return gormstore.Database{}, nil, err
	}
	database, err := gormstore.Open(ctx, dsn, newGormLogger(zapLogger))
	if err != nil {
		return gormstore.Database{}, nil, fmt.Errorf("database open: %w", err)
	}
	if database.Driver == gormstore.DriverSQLite {
		if err := gormstore.Migrate(database.DB); err != nil {
			_ = database.Close()
			return gormstore.Database{}, nil, err
		}
	}
	return database, gormstore.New(database.DB), nil
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	if zapLogger == nil {
		return logger.Discard
	}
	return logger.New(zap.NewStdLog(zapLogger.Named("gorm")), logger.Config{
		SlowThreshold:             gormSlowThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
