// Package session carries the admin capability explicitly through calls that
// read the daily log or mutate the roster and attendance records.
package session

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrUnauthorized = errors.New("admin session required")
	ErrForbidden    = errors.New("session lacks the required capability")
)

// Capability names one admin permission.
type Capability string

const (
	CapReadLog      Capability = "log:read"
	CapDeleteRecord Capability = "log:delete"
	CapReadRoster   Capability = "roster:read"
	CapManageRoster Capability = "roster:write"
)

// AdminCapabilities is what a successful admin login grants.
var AdminCapabilities = []Capability{CapReadLog, CapDeleteRecord, CapReadRoster, CapManageRoster}

// Session is an authenticated admin session.
type Session struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject"`
	Capabilities []Capability `json:"capabilities"`
	IssuedAt     time.Time    `json:"issued_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Can reports whether the session grants c. A nil session grants nothing.
func (s *Session) Can(c Capability) bool {
	if s == nil {
		return false
	}
	return slices.Contains(s.Capabilities, c)
}

// Require returns ErrUnauthorized for a nil session and ErrForbidden when c
// is not granted.
func (s *Session) Require(c Capability) error {
	if s == nil {
		return ErrUnauthorized
	}
	if !s.Can(c) {
		return ErrForbidden
	}
	return nil
}

// Actor identifies the session in journal entries.
func (s *Session) Actor() string {
	if s == nil {
		return ""
	}
	return s.Subject
}

// Local builds a session for trusted local tooling such as the admin CLI.
func Local(subject string) *Session {
	now := time.Now()
	return &Session{
		ID:           "local",
		Subject:      subject,
		Capabilities: slices.Clone(AdminCapabilities),
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached by the HTTP middleware, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
