package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"joinrecs/internal/attendance"
	"joinrecs/internal/config"
	"joinrecs/internal/database"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
)

// MemoryURL as database.url runs the kiosk on in-process storage that is
// lost on exit.
const MemoryURL = "memory"

// OpenStack connects the storage named by cfg, applies the schema and builds
// the services. The returned function releases the storage.
func OpenStack(ctx context.Context, cfg config.Config, logger zerolog.Logger) (Stack, func() error, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Stack{}, nil, err
	}
	mode, err := attendance.ParseGuestMode(cfg.Kiosk.GuestMode)
	if err != nil {
		return Stack{}, nil, err
	}

	if cfg.Database.URL == MemoryURL {
		logger.Warn().Msg("using in-process storage; records are lost on exit")
		return NewMemoryStack(roster.NewMemoryRepository(), loc, mode, logger), func() error { return nil }, nil
	}

	db, err := database.Open(ctx, database.Config(cfg.Database))
	if err != nil {
		return Stack{}, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return Stack{}, nil, fmt.Errorf("failed to migrate: %w", err)
	}

	stack := NewStack(StackConfig{
		Store:       attendance.NewPostgresStore(db),
		Members:     roster.NewPostgresRepository(db),
		Journal:     eventstore.NewEventStore(db),
		Location:    loc,
		GuestMode:   mode,
		SubmitRate:  cfg.Kiosk.SubmitRate,
		SubmitBurst: cfg.Kiosk.SubmitBurst,
	}, logger)
	return stack, db.Close, nil
}
