// Package domain contains the core business entities for the user directory.
// These are pure Go structs with no external dependencies.
package domain

import (
	"strings"
	"time"
)

// ActivityWindow is how long after its last access a user is still considered active.
const ActivityWindow = 24 * time.Hour

// TimestampLayout is the ISO-8601 layout used for persisted timestamps
// (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// User represents a registered person in the directory.
type User struct {
	// DNI is the national identity number. It is the unique key of the user
	// and never changes after creation.
	DNI string `json:"dni"`

	// Name is the display name of the user.
	Name string `json:"name"`

	// Email is the contact address of the user. It is not validated.
	Email string `json:"email"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccess is the timestamp of the most recent access (search or override).
	// It may be earlier than CreatedAt when set through OverrideLastAccess.
	LastAccess time.Time `json:"last_access"`
}

// AccessAge is the time elapsed since the last access, split into whole units.
type AccessAge struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
}

// UserPatch holds the mutable fields of a user. Nil fields are left untouched.
type UserPatch struct {
	Name  *string
	Email *string
}

// NewUser creates a new User whose creation and last access times are now.
func NewUser(dni, name, email string, now time.Time) (*User, error) {
	if strings.TrimSpace(dni) == "" {
		return nil, ErrEmptyDNI
	}

	now = Normalize(now)
	return &User{
		DNI:        dni,
		Name:       name,
		Email:      email,
		CreatedAt:  now,
		LastAccess: now,
	}, nil
}

// RecordAccess marks the user as accessed at now.
func (u *User) RecordAccess(now time.Time) {
	u.LastAccess = Normalize(now)
}

// OverrideLastAccess sets the last access to an arbitrary timestamp.
// Diagnostic only: there is no check against CreatedAt or the current time.
func (u *User) OverrideLastAccess(t time.Time) {
	u.LastAccess = Normalize(t)
}

// IsActive reports whether the user was accessed within the activity window.
func (u *User) IsActive(now time.Time) bool {
	return now.Sub(u.LastAccess) <= ActivityWindow
}

// TimeSinceLastAccess returns the elapsed time since the last access in days,
// hours and minutes. Seconds and milliseconds are discarded.
func (u *User) TimeSinceLastAccess(now time.Time) AccessAge {
	const (
		minute = int64(time.Minute / time.Millisecond)
		hour   = int64(time.Hour / time.Millisecond)
		day    = 24 * hour
	)

	diff := now.Sub(u.LastAccess).Milliseconds()
	return AccessAge{
		Days:    floorDiv(diff, day),
		Hours:   floorDiv(diff%day, hour),
		Minutes: floorDiv(diff%hour, minute),
	}
}

// Apply merges the non-nil fields of the patch into the user.
func (u *User) Apply(p UserPatch) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	c := *u
	return &c
}

// Normalize converts t to UTC at millisecond precision, the resolution of the
// persisted format.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
