package chaos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"joinrecs/internal/attendance"
	"joinrecs/internal/clients"
)

// Target is the kiosk under test. Admin must be logged in; it reads the
// daily log to count stored rows.
type Target struct {
	Kiosk *clients.KioskClient
	Admin *clients.KioskClient
	// Concurrency is the number of simultaneous submissions per experiment.
	Concurrency int
	Duration    time.Duration
	SampleEvery time.Duration
}

// RaceScenario names the people the race experiments check in. Member must
// exist on the roster and be allowed to attend; the guest must not.
type RaceScenario struct {
	Member string
	Guest  attendance.Guest
}

// RegisterExperiments registers the duplicate-race experiments.
func (e *Engine) RegisterExperiments(t Target, s RaceScenario) {
	e.RegisterExperiment(ConcurrentCheckInRace(t, s.Member))
	e.RegisterExperiment(CrossShapeGuestDuplicate(t, s.Member, s.Guest))
}

// ConcurrentCheckInRace submits the same member from many kiosks at once.
// At most one submission may be stored for the civil day.
func ConcurrentCheckInRace(t Target, member string) Experiment {
	var accepted atomic.Int64
	rows := func(ctx context.Context) (float64, error) {
		return countRows(ctx, t.Admin, func(r attendance.DisplayRecord) bool {
			return r.Kind == attendance.KindMember && r.Name == member
		})
	}

	return Experiment{
		Name:       "concurrent-checkin-race",
		Hypothesis: "A member checked in from many kiosks at once is stored once per day",
		SteadyState: []Metric{
			{Name: "member_rows", Query: rows, Threshold: Threshold{Operator: "<=", Value: 1}},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "kiosk",
				Execute: func(ctx context.Context) error {
					return fanOut(ctx, t.concurrency(), func(ctx context.Context) error {
						_, err := t.Kiosk.CheckIn(ctx, attendance.CheckInRequest{Name: member})
						if err == nil {
							accepted.Add(1)
						}
						return err
					})
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "member_rows",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one attendance row should exist for the member",
			},
			{
				Metric:    "accepted_checkins",
				Condition: func(v float64) bool { return v <= 1 },
				Message:   "No more than one submission should be accepted",
			},
		},
		Duration:    t.Duration,
		SampleEvery: t.SampleEvery,
	}.withCounter("accepted_checkins", &accepted)
}

// CrossShapeGuestDuplicate races a guest attached to the member's check-in
// against the same guest checking in alone.
func CrossShapeGuestDuplicate(t Target, host string, guest attendance.Guest) Experiment {
	phone, _ := attendance.NormalizePhone(guest.Phone)
	var accepted atomic.Int64
	rows := func(ctx context.Context) (float64, error) {
		return countRows(ctx, t.Admin, func(r attendance.DisplayRecord) bool {
			return r.Kind != attendance.KindMember && r.Name == guest.Name && r.Phone == phone
		})
	}

	return Experiment{
		Name:       "cross-shape-guest-duplicate",
		Hypothesis: "A guest is stored once per day whether attached to a member or alone",
		SteadyState: []Metric{
			{Name: "guest_rows", Query: rows, Threshold: Threshold{Operator: "<=", Value: 1}},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "kiosk",
				Execute: func(ctx context.Context) error {
					var n atomic.Int64
					return fanOut(ctx, t.concurrency(), func(ctx context.Context) error {
						req := attendance.CheckInRequest{Name: guest.Name, Phone: guest.Phone}
						if n.Add(1)%2 == 0 {
							req = attendance.CheckInRequest{Name: host, Guests: []attendance.Guest{guest}}
						}
						_, err := t.Kiosk.CheckIn(ctx, req)
						if err == nil {
							accepted.Add(1)
						}
						return err
					})
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "guest_rows",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one guest row should exist across both shapes",
			},
		},
		Duration:    t.Duration,
		SampleEvery: t.SampleEvery,
	}.withCounter("accepted_checkins", &accepted)
}

// withCounter adds a metric that reports counter without a threshold
// breach.
func (exp Experiment) withCounter(name string, counter *atomic.Int64) Experiment {
	exp.SteadyState = append(exp.SteadyState, Metric{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return float64(counter.Load()), nil },
		Threshold: Threshold{Operator: ">=", Value: 0},
	})
	return exp
}

func (t Target) concurrency() int {
	if t.Concurrency <= 0 {
		return 20
	}
	return t.Concurrency
}

func countRows(ctx context.Context, admin *clients.KioskClient, match func(attendance.DisplayRecord) bool) (float64, error) {
	day, err := admin.DailyLog(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to read daily log: %w", err)
	}
	n := 0
	for _, r := range day.Records {
		if match(r) {
			n++
		}
	}
	return float64(n), nil
}

// fanOut runs fn n times at once. Rejections the kiosk is expected to give
// under a race (duplicate, rate limited) are not errors.
func fanOut(ctx context.Context, n int, fn func(context.Context) error) error {
	start := make(chan struct{})
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := fn(ctx)
			var status *clients.StatusError
			if errors.As(err, &status) && expectedRejection(status.StatusCode) {
				err = nil
			}
			errs[i] = err
		}()
	}
	close(start)
	wg.Wait()
	return errors.Join(errs...)
}

func expectedRejection(code int) bool {
	switch code {
	case http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return false
}
