package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/angelmondragon/keymarket-backend/pkg/config"
	"github.com/angelmondragon/keymarket-backend/pkg/db"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	"github.com/angelmondragon/keymarket-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	command string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.command, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "directory holding the goose sql files")
	flag.StringVar(&opts.name, "name", "", "name of the new migration (-cmd=create)")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS version (-cmd=version)")
	flag.Parse()

	if handled, err := runOffline(opts); handled {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := runOnline(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runOffline handles the commands that never open a database connection.
func runOffline(opts options) (bool, error) {
	switch opts.command {
	case "create":
		if opts.name == "" {
			return true, errors.New("create requires -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name, time.Now())
		if err != nil {
			return true, fmt.Errorf("create migration: %w", err)
		}
		fmt.Println(path)
		return true, nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return true, fmt.Errorf("validate %s: %w", opts.dir, err)
		}
		fmt.Println("migrations ok")
		return true, nil
	}
	return false, nil
}

func runOnline(ctx context.Context, opts options) error {
	if opts.command == "version" && opts.version == "" {
		return errors.New("version requires -version")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "keymarket-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"command": opts.command,
		"dir":     opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("unwrap sql.DB: %w", err)
	}

	switch opts.command {
	case "up", "down", "status":
		err = migrate.Run(ctx, sqlDB, opts.dir, opts.command)
	case "version":
		err = migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.command)
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		return err
	}
	logg.Info(ctx, "migration finished")
	return nil
}
