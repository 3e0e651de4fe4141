package store

import (
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2/migrate"
)

// testDSN is set when a postgres database is reachable and migrated
var testDSN string

// TestMain migrates the test database when TEST_DB_DSN is set. Without it
// the database-backed tests skip and the rest still run.
func TestMain(m *testing.M) {
	dsn := strings.TrimSpace(os.Getenv("TEST_DB_DSN"))
	if dsn == "" {
		log.Info().Msg("TEST_DB_DSN not set, database store tests will skip")
		os.Exit(m.Run())
	}

	var ready bool
	for i := 0; i < 20; i++ {
		if db, err := sql.Open("postgres", dsn); err == nil {
			if err = db.Ping(); err == nil {
				ready = true
				_ = db.Close()
				break
			}
			_ = db.Close()
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		log.Warn().Msg("postgres is not ready, database store tests will skip")
		os.Exit(m.Run())
	}

	if err := migrate.Run(migrate.Options{Driver: "postgres", DSN: dsn, Command: "up"}); err != nil {
		log.Fatal().Err(err).Msg("store test migration failed")
	}
	testDSN = dsn
	os.Exit(m.Run())
}
