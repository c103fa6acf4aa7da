// Command bin2nlp-migrate applies and inspects the metadata store's schema
// migrations. It is a thin wrapper around goose, pointed at the DSN the
// service itself uses so there is exactly one source of truth for schema
// state.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Onegaishimas/bin2nlp/internal/obslog"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("BIN2NLP_DATABASE_DSN"), "Postgres connection string (defaults to BIN2NLP_DATABASE_DSN)")
	dir := flag.String("dir", "migrations", "Directory containing goose migration files")
	flag.Parse()

	obslog.Init(obslog.Config{Level: obslog.InfoLevel, JSONOutput: false})
	log := obslog.WithComponent("bin2nlp-migrate")

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "bin2nlp-migrate: -dsn or BIN2NLP_DATABASE_DSN is required")
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: bin2nlp-migrate [-dsn DSN] [-dir DIR] <up|down|status|version|redo>")
		os.Exit(1)
	}
	command := args[0]

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("opening database connection")
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("unsupported dialect")
	}

	if err := goose.RunContext(context.Background(), command, db, *dir, args[1:]...); err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("migration failed")
	}

	log.Info().Str("command", command).Msg("migration command completed")
}
