package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/logger"
)

// migrateLogger forwards golang-migrate output to zerolog.
type migrateLogger struct {
	log     zerolog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return l.verbose }

func main() {
	var (
		migrationDir string
		databaseURL  string
		verbose      bool
	)
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.StringVar(&databaseURL, "database", "", "Database URL (default: DATABASE_URL)")
	flag.BoolVar(&verbose, "verbose", false, "Log every applied migration")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	m, err := migrate.New("file://"+migrationDir, databaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed to initialize")
	}
	defer m.Close()
	m.Log = migrateLogger{log: log, verbose: verbose}

	switch command := args[0]; command {
	case "up":
		check(log, command, m.Up())
	case "down":
		check(log, command, m.Down())
	case "steps":
		n := intArg(log, args, "steps requires a count, e.g. steps -1")
		check(log, command, m.Steps(n))
	case "goto":
		n := intArg(log, args, "goto requires a version")
		if n < 0 {
			log.Fatal().Int("version", n).Msg("Version must not be negative")
		}
		check(log, command, m.Migrate(uint(n)))
	case "force":
		n := intArg(log, args, "force requires a version")
		if err := m.Force(n); err != nil {
			log.Fatal().Err(err).Msg("Force failed")
		}
		log.Info().Int("version", n).Msg("Forced version")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migration applied yet")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Version failed")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current version")
	default:
		printUsage()
		os.Exit(2)
	}
}

// check treats ErrNoChange as success.
func check(log zerolog.Logger, command string, err error) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Str("command", command).Msg("No change")
	case err != nil:
		log.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	default:
		log.Info().Str("command", command).Msg("Migrated successfully")
	}
}

func intArg(log zerolog.Logger, args []string, usage string) int {
	if len(args) < 2 {
		log.Fatal().Msg(usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		log.Fatal().Err(err).Str("arg", args[1]).Msg("Invalid number")
	}
	return n
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, steps <n>, goto <version>, force <version>, version")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
