package store

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/migrate"
)

// Backend a credential store that also registers clients
type Backend interface {
	oauth2.CredentialStore
	oauth2.ClientRegistry
}

var (
	_ Backend = (*MemoryStore)(nil)
	_ Backend = (*BuntStore)(nil)
	_ Backend = (*ValkeyStore)(nil)
	_ Backend = (*DBStore)(nil)
)

// OpenOptions selects and configures a backend.
type OpenOptions struct {
	Driver  string // memory, buntdb, valkey or postgres
	DSN     string
	Prefix  string
	Migrate bool // postgres only
}

// Open opens the backend named by opts.Driver. The returned function
// releases it.
func Open(opts OpenOptions) (Backend, func(), error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), func() {}, nil
	case "buntdb":
		path := opts.DSN
		if path == "" {
			path = ":memory:"
		}
		s, err := NewBuntStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("close buntdb")
			}
		}, nil
	case "valkey":
		s, err := NewValkeyStore(opts.DSN, opts.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		if opts.Migrate {
			if err := migrate.Run(migrate.Options{
				Driver: "postgres",
				DSN:    opts.DSN,
				Logger: migrate.NewLogger(log.Logger),
			}); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := OpenDB(opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		return NewDBStore(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
