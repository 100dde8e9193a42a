// Package directory implements the user directory: the single owner of all
// users, enforcing DNI uniqueness and writing the full collection through to
// a blob store after every mutation.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/store"
)

// DefaultKey is the store key the snapshot is written under.
const DefaultKey = "usuariosDAO"

// Directory holds users keyed by DNI in insertion order.
//
// Entities returned by Find and List are shared with the directory: changing
// one changes the directory (but is not persisted until the next write).
// The slices themselves are fresh copies.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*domain.User
	order []string

	store  store.Store
	key    string
	clock  clock.Clock
	logger zerolog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithStore persists the directory to s. Without a store the directory is
// in-memory only.
func WithStore(s store.Store) Option {
	return func(d *Directory) { d.store = s }
}

// WithKey sets the store key of the snapshot.
func WithKey(key string) Option {
	return func(d *Directory) { d.key = key }
}

// WithClock sets the time source for access events.
func WithClock(c clock.Clock) Option {
	return func(d *Directory) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// New creates an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		users:  make(map[string]*domain.User),
		key:    DefaultKey,
		clock:  clock.System{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "directory").Str("key", d.key).Logger()
	return d
}

// Open creates a directory and hydrates it from its store.
func Open(ctx context.Context, opts ...Option) (*Directory, error) {
	d := New(opts...)
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Key returns the store key of the snapshot.
func (d *Directory) Key() string {
	return d.key
}

// =============================================================================
// Reads
// =============================================================================

// Find returns the user with the given DNI without touching its last access.
func (d *Directory) Find(dni string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[dni]
	if !ok {
		return nil, notFound(dni)
	}
	return u, nil
}

// Get returns a copy of the user with the given DNI.
func (d *Directory) Get(dni string) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[dni]
	if !ok {
		return domain.User{}, notFound(dni)
	}
	return *u, nil
}

// List returns the users in directory order.
func (d *Directory) List() []*domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.listLocked()
}

// Snapshot returns copies of the users in directory order, safe to read
// while other goroutines mutate the directory.
func (d *Directory) Snapshot() []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.User, 0, len(d.order))
	for _, dni := range d.order {
		out = append(out, *d.users[dni])
	}
	return out
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

func (d *Directory) listLocked() []*domain.User {
	out := make([]*domain.User, 0, len(d.order))
	for _, dni := range d.order {
		out = append(out, d.users[dni])
	}
	return out
}

// =============================================================================
// Mutations
// =============================================================================

// Create inserts u and persists. It fails with domain.ErrUserAlreadyExists,
// leaving the directory untouched, when the DNI is taken.
func (d *Directory) Create(ctx context.Context, u *domain.User) error {
	if u == nil || strings.TrimSpace(u.DNI) == "" {
		return domain.ErrEmptyDNI
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.users[u.DNI]; exists {
		return domain.NewDomainError(domain.ErrUserAlreadyExists, "dni already registered", u.DNI)
	}

	d.users[u.DNI] = u
	d.order = append(d.order, u.DNI)

	if err := d.persistLocked(ctx); err != nil {
		delete(d.users, u.DNI)
		d.order = d.order[:len(d.order)-1]
		d.logger.Warn().Err(err).Str("dni", u.DNI).Msg("Create rolled back")
		return err
	}

	d.logger.Debug().Str("dni", u.DNI).Msg("User created")
	return nil
}

// RecordAccess sets the user's last access to now and persists. It returns a
// copy of the updated user.
func (d *Directory) RecordAccess(ctx context.Context, dni string) (*domain.User, error) {
	now := d.clock.Now()
	return d.mutate(ctx, dni, "record access", func(u *domain.User) {
		u.RecordAccess(now)
	})
}

// OverrideLastAccess sets the user's last access to t and persists. This is
// the diagnostic debug-date path and accepts any t.
func (d *Directory) OverrideLastAccess(ctx context.Context, dni string, t time.Time) (*domain.User, error) {
	return d.mutate(ctx, dni, "override last access", func(u *domain.User) {
		u.OverrideLastAccess(t)
	})
}

// Update merges patch into the user and persists. Unknown DNIs fail with
// domain.ErrUserNotFound and have no effect.
func (d *Directory) Update(ctx context.Context, dni string, patch domain.UserPatch) (*domain.User, error) {
	return d.mutate(ctx, dni, "update", func(u *domain.User) {
		u.Apply(patch)
	})
}

// mutate applies fn to the user in place, persists, and restores the
// previous field values if persisting fails.
func (d *Directory) mutate(ctx context.Context, dni, op string, fn func(*domain.User)) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[dni]
	if !ok {
		return nil, notFound(dni)
	}

	prev := *u
	fn(u)

	if err := d.persistLocked(ctx); err != nil {
		*u = prev
		d.logger.Warn().Err(err).Str("dni", dni).Str("op", op).Msg("Mutation rolled back")
		return nil, err
	}

	d.logger.Debug().Str("dni", dni).Str("op", op).Msg("User updated")
	return u.Clone(), nil
}

// Delete removes the user and persists. Unknown DNIs fail with
// domain.ErrUserNotFound and nothing is written.
func (d *Directory) Delete(ctx context.Context, dni string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[dni]
	if !ok {
		return notFound(dni)
	}

	idx := slices.Index(d.order, dni)
	delete(d.users, dni)
	d.order = slices.Delete(d.order, idx, idx+1)

	if err := d.persistLocked(ctx); err != nil {
		d.users[dni] = u
		d.order = slices.Insert(d.order, idx, dni)
		d.logger.Warn().Err(err).Str("dni", dni).Msg("Delete rolled back")
		return err
	}

	d.logger.Debug().Str("dni", dni).Msg("User deleted")
	return nil
}

// =============================================================================
// Persistence
// =============================================================================

// Save writes the whole collection to the store.
func (d *Directory) Save(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.persistLocked(ctx)
}

// Load merges the stored snapshot into the directory. It does not clear
// existing users: a stored DNI that is already present replaces the entity
// in its current position, others are appended. A missing snapshot is an
// empty collection. A malformed snapshot fails with
// domain.ErrMalformedSnapshot and leaves the directory unchanged.
func (d *Directory) Load(ctx context.Context) error {
	users, err := d.readSnapshot(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range users {
		if _, exists := d.users[u.DNI]; !exists {
			d.order = append(d.order, u.DNI)
		}
		d.users[u.DNI] = u
	}

	d.logger.Info().Int("loaded", len(users)).Int("total", len(d.order)).Msg("Directory loaded")
	return nil
}

// Reload replaces the directory contents with the stored snapshot, picking
// up users created, changed or deleted by other writers of the same key.
// Users present on both sides are updated in place, so entities handed out
// by Find and List stay attached. A missing snapshot empties the directory.
// A malformed snapshot fails with domain.ErrMalformedSnapshot and leaves the
// directory unchanged. Without a store Reload does nothing.
func (d *Directory) Reload(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	// The read happens under d.mu so a concurrent in-process write cannot
	// land between reading the snapshot and installing it.
	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.readSnapshot(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]*domain.User, len(users))
	order := make([]string, 0, len(users))
	for _, u := range users {
		if _, dup := next[u.DNI]; dup {
			*next[u.DNI] = *u
			continue
		}
		if existing, ok := d.users[u.DNI]; ok {
			*existing = *u
			u = existing
		}
		next[u.DNI] = u
		order = append(order, u.DNI)
	}
	d.users = next
	d.order = order

	d.logger.Debug().Int("total", len(order)).Msg("Directory reloaded")
	return nil
}

// readSnapshot fetches and decodes the stored snapshot. A missing snapshot
// yields no users.
func (d *Directory) readSnapshot(ctx context.Context) ([]*domain.User, error) {
	if d.store == nil {
		return nil, nil
	}

	data, err := d.store.Get(ctx, d.key)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug().Msg("No snapshot stored")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	users, err := Decode(data)
	if err != nil {
		return nil, domain.NewDomainError(err, "cannot load directory", d.key)
	}
	return users, nil
}

// persistLocked writes the snapshot. Caller holds d.mu.
func (d *Directory) persistLocked(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	data, err := Encode(d.listLocked())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := d.store.Put(ctx, d.key, data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func notFound(dni string) error {
	return domain.NewDomainError(domain.ErrUserNotFound, "no user with this dni", dni)
}
