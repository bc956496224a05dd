// Command migrate applies the embedded schema migrations.
//
//	migrate up | down | version | force N
package main

import (
	"fmt"
	"os"

	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/db"
	"github.com/lalith-99/unifiedinbox/internal/observ"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: migrate up|down|version|force N")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	return db.Migrate(logger, cfg.DatabaseURL, args[0], args[1:])
}
