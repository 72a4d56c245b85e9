package server

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"joinrecs/internal/attendance"
	"joinrecs/internal/eventstore"
	"joinrecs/internal/roster"
)

// StackConfig names the storage behind a kiosk. Members serves both the
// roster and the daily log's member join.
type StackConfig struct {
	Store     attendance.Store
	Members   roster.Repository
	Journal   eventstore.Journal
	Location  *time.Location
	GuestMode attendance.GuestMode
	// SubmitRate is check-ins per second across the kiosk; zero disables
	// the limit.
	SubmitRate  float64
	SubmitBurst int
	Clock       func() time.Time
}

// Stack holds the services a router serves.
type Stack struct {
	Roster     roster.Service
	Attendance attendance.Service
}

func NewStack(cfg StackConfig, logger zerolog.Logger) Stack {
	rosterSvc := roster.NewService(cfg.Members, cfg.Journal, logger)
	recorder := attendance.NewRecorder(cfg.Store, attendance.RecorderConfig{
		Location:  cfg.Location,
		GuestMode: cfg.GuestMode,
		Clock:     cfg.Clock,
	}, logger)
	daily := attendance.NewDailyLog(cfg.Store, cfg.Members)

	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), max(cfg.SubmitBurst, 1))
	}

	return Stack{
		Roster: rosterSvc,
		Attendance: attendance.NewService(attendance.Deps{
			Store:    cfg.Store,
			Roster:   rosterSvc,
			Recorder: recorder,
			DailyLog: daily,
			Journal:  cfg.Journal,
			Limiter:  limiter,
		}, logger),
	}
}

// NewMemoryStack backs a kiosk with in-process storage and no submit limit.
func NewMemoryStack(members *roster.MemoryRepository, loc *time.Location, mode attendance.GuestMode, logger zerolog.Logger) Stack {
	return NewStack(StackConfig{
		Store:     attendance.NewMemoryStore(),
		Members:   members,
		Journal:   eventstore.NewMemoryStore(),
		Location:  loc,
		GuestMode: mode,
	}, logger)
}
