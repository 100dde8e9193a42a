package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/directory"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/lock"
	"github.com/prn-tf/userdir/internal/metrics"
)

// StatusActive is the status text of a user inside the activity window.
const StatusActive = "Activo"

// UserDirectory is the subset of directory.Directory the services use.
type UserDirectory interface {
	Create(ctx context.Context, u *domain.User) error
	Get(dni string) (domain.User, error)
	RecordAccess(ctx context.Context, dni string) (*domain.User, error)
	OverrideLastAccess(ctx context.Context, dni string, t time.Time) (*domain.User, error)
	Update(ctx context.Context, dni string, patch domain.UserPatch) (*domain.User, error)
	Delete(ctx context.Context, dni string) error
	Snapshot() []domain.User
	Reload(ctx context.Context) error
	Len() int
	Key() string
}

var _ UserDirectory = (*directory.Directory)(nil)

// UserView is a user as presented to clients, with its derived activity status.
type UserView struct {
	DNI             string           `json:"dni"`
	Name            string           `json:"name"`
	Email           string           `json:"email"`
	CreatedAt       time.Time        `json:"created_at"`
	LastAccess      time.Time        `json:"last_access"`
	Active          bool             `json:"active"`
	SinceLastAccess domain.AccessAge `json:"since_last_access"`
	Status          string           `json:"status"`
}

// NewUserView derives the view of u at now.
func NewUserView(u domain.User, now time.Time) UserView {
	active := u.IsActive(now)
	age := u.TimeSinceLastAccess(now)
	return UserView{
		DNI:             u.DNI,
		Name:            u.Name,
		Email:           u.Email,
		CreatedAt:       u.CreatedAt,
		LastAccess:      u.LastAccess,
		Active:          active,
		SinceLastAccess: age,
		Status:          StatusText(active, age),
	}
}

// StatusText renders the activity status shown next to a user.
func StatusText(active bool, age domain.AccessAge) string {
	if active {
		return StatusActive
	}
	return fmt.Sprintf("Último acceso: hace %dd %dh %dm", age.Days, age.Hours, age.Minutes)
}

// accessTimeLayouts are the layouts accepted for a debug last-access date.
var accessTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseAccessTime parses a debug last-access date. Values without a zone
// are read as UTC.
func ParseAccessTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range accessTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return domain.Normalize(t), nil
		}
	}
	return time.Time{}, domain.NewDomainError(domain.ErrInvalidTimestamp, "expected YYYY-MM-DD HH:MM or RFC 3339", value)
}

// UserService handles user management operations.
type UserService struct {
	dir      UserDirectory
	locker   lock.Locker
	lockOpts lock.Options
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewUserService creates a new UserService. m may be nil.
func NewUserService(
	dir UserDirectory,
	locker lock.Locker,
	lockOpts lock.Options,
	clk clock.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		dir:      dir,
		locker:   locker,
		lockOpts: lockOpts,
		clock:    clk,
		metrics:  m,
		logger:   logger.With().Str("service", "user").Logger(),
	}
}

// withLock serializes a mutation against other writers of the same snapshot.
// The directory is reloaded from the store once the lock is held, so the
// full-snapshot write that follows includes what other processes wrote.
func (s *UserService) withLock(ctx context.Context, fn func() error) error {
	err := lock.WithLock(ctx, s.locker, lock.Keys.Directory(s.dir.Key()), s.lockOpts, func() error {
		if err := s.dir.Reload(ctx); err != nil {
			return err
		}
		return fn()
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return domain.NewDomainError(domain.ErrDirectoryBusy, "another writer holds the directory", s.dir.Key())
	}
	return err
}

func (s *UserService) record(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, err)
	}
}

func (s *UserService) view(u domain.User) *UserView {
	v := NewUserView(u, s.clock.Now())
	return &v
}

// CreateUserInput contains the data needed to create a new user.
type CreateUserInput struct {
	DNI   string
	Name  string
	Email string
}

// Create registers a new user.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (_ *UserView, err error) {
	defer func() { s.record("create", err) }()

	user, err := domain.NewUser(strings.TrimSpace(input.DNI), strings.TrimSpace(input.Name), strings.TrimSpace(input.Email), s.clock.Now())
	if err != nil {
		return nil, err
	}

	// The directory owns user once created.
	created := *user
	err = s.withLock(ctx, func() error {
		return s.dir.Create(ctx, user)
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("dni", created.DNI).Msg("user not created")
		return nil, err
	}

	s.logger.Info().Str("dni", created.DNI).Msg("user created")
	return s.view(created), nil
}

// Get returns a user without recording an access.
func (s *UserService) Get(ctx context.Context, dni string) (*UserView, error) {
	u, err := s.dir.Get(strings.TrimSpace(dni))
	if err != nil {
		return nil, err
	}
	return s.view(u), nil
}

// Search looks a user up and records the access.
func (s *UserService) Search(ctx context.Context, dni string) (_ *UserView, err error) {
	defer func() { s.record("search", err) }()

	dni = strings.TrimSpace(dni)
	var updated *domain.User
	err = s.withLock(ctx, func() error {
		var err error
		updated, err = s.dir.RecordAccess(ctx, dni)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("dni", dni).Time("last_access", updated.LastAccess).Msg("access recorded")
	return s.view(*updated), nil
}

// UpdateUserInput contains the fields to change. Nil fields are untouched.
type UpdateUserInput struct {
	DNI   string
	Name  *string
	Email *string
}

// Update edits a user. Users outside the activity window cannot be edited.
func (s *UserService) Update(ctx context.Context, input UpdateUserInput) (_ *UserView, err error) {
	defer func() { s.record("update", err) }()

	dni := strings.TrimSpace(input.DNI)
	var updated *domain.User
	err = s.withLock(ctx, func() error {
		if err := s.requireActive(dni); err != nil {
			return err
		}
		var err error
		updated, err = s.dir.Update(ctx, dni, domain.UserPatch{Name: input.Name, Email: input.Email})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("dni", dni).Msg("user updated")
	return s.view(*updated), nil
}

// Delete removes a user. Users outside the activity window cannot be deleted.
func (s *UserService) Delete(ctx context.Context, dni string) (err error) {
	defer func() { s.record("delete", err) }()

	dni = strings.TrimSpace(dni)
	err = s.withLock(ctx, func() error {
		if err := s.requireActive(dni); err != nil {
			return err
		}
		return s.dir.Delete(ctx, dni)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("dni", dni).Msg("user deleted")
	return nil
}

// SetLastAccess overrides a user's last access with a debug date. See
// ParseAccessTime for the accepted formats.
func (s *UserService) SetLastAccess(ctx context.Context, dni, value string) (_ *UserView, err error) {
	defer func() { s.record("set_last_access", err) }()

	t, err := ParseAccessTime(value)
	if err != nil {
		return nil, err
	}

	dni = strings.TrimSpace(dni)
	var updated *domain.User
	err = s.withLock(ctx, func() error {
		var err error
		updated, err = s.dir.OverrideLastAccess(ctx, dni, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn().Str("dni", dni).Time("last_access", t).Msg("last access overridden")
	return s.view(*updated), nil
}

// ListUsersOutput contains the result of listing users.
type ListUsersOutput struct {
	Users  []UserView `json:"users"`
	Total  int        `json:"total"`
	Active int        `json:"active"`
}

// List returns every user in directory order.
func (s *UserService) List(ctx context.Context) (*ListUsersOutput, error) {
	now := s.clock.Now()
	users := s.dir.Snapshot()

	out := &ListUsersOutput{
		Users: make([]UserView, 0, len(users)),
		Total: len(users),
	}
	for _, u := range users {
		v := NewUserView(u, now)
		if v.Active {
			out.Active++
		}
		out.Users = append(out.Users, v)
	}
	return out, nil
}

func (s *UserService) requireActive(dni string) error {
	u, err := s.dir.Get(dni)
	if err != nil {
		return err
	}
	if !u.IsActive(s.clock.Now()) {
		return domain.NewDomainError(domain.ErrUserInactive, "outside the activity window", dni)
	}
	return nil
}
