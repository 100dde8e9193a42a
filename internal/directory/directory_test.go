package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/domain"
	"github.com/prn-tf/userdir/internal/store"
	"github.com/prn-tf/userdir/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MockStore is a testify mock of store.Store used for failure injection.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

var _ store.Store = (*MockStore)(nil)

func newUser(t *testing.T, dni, name, email string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(dni, name, email, t0)
	require.NoError(t, err)
	return u
}

func newTestDirectory(t *testing.T, opts ...Option) (*Directory, *clock.Manual, *memory.Store) {
	t.Helper()
	clk := clock.NewManual(t0)
	s := memory.New()
	d := New(append([]Option{WithStore(s), WithClock(clk)}, opts...)...)
	return d, clk, s
}

func TestDirectory_CreateThenFind(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)

	require.NoError(t, d.Create(ctx, newUser(t, "12345678", "Ana", "ana@x.com")))

	got, err := d.Find("12345678")
	require.NoError(t, err)
	require.Equal(t, "12345678", got.DNI)
	require.Equal(t, "Ana", got.Name)
	require.Equal(t, "ana@x.com", got.Email)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)

	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "ana@x.com")))

	err := d.Create(ctx, newUser(t, "1", "Impostor", "evil@x.com"))
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
	require.Equal(t, 1, d.Len())

	got, err := d.Find("1")
	require.NoError(t, err)
	require.Equal(t, "Ana", got.Name)
}

func TestDirectory_CreateEmptyDNI(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	require.ErrorIs(t, d.Create(context.Background(), &domain.User{DNI: "  "}), domain.ErrEmptyDNI)
	require.ErrorIs(t, d.Create(context.Background(), nil), domain.ErrEmptyDNI)
	require.Zero(t, d.Len())
}

func TestDirectory_FindIsPure(t *testing.T) {
	ctx := context.Background()
	d, clk, _ := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	clk.Advance(time.Hour)
	got, err := d.Find("1")
	require.NoError(t, err)
	require.Equal(t, t0, got.LastAccess)
}

func TestDirectory_FindMissing(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	_, err := d.Find("nope")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = d.Get("nope")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDirectory_RecordAccess(t *testing.T) {
	ctx := context.Background()
	d, clk, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	clk.Advance(30 * time.Hour)
	u, err := d.Find("1")
	require.NoError(t, err)
	require.False(t, u.IsActive(clk.Now()))

	updated, err := d.RecordAccess(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, t0.Add(30*time.Hour), updated.LastAccess)
	require.True(t, updated.IsActive(clk.Now()))

	// Persisted.
	fresh := New(WithStore(s), WithClock(clk))
	require.NoError(t, fresh.Load(ctx))
	got, err := fresh.Find("1")
	require.NoError(t, err)
	require.Equal(t, t0.Add(30*time.Hour), got.LastAccess)

	_, err = d.RecordAccess(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDirectory_OverrideLastAccess(t *testing.T) {
	ctx := context.Background()
	d, clk, _ := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	before := t0.Add(-48 * time.Hour)
	u, err := d.OverrideLastAccess(ctx, "1", before)
	require.NoError(t, err)
	require.Equal(t, before, u.LastAccess)
	require.True(t, u.LastAccess.Before(u.CreatedAt), "override may precede creation")
	require.False(t, u.IsActive(clk.Now()))

	_, err = d.OverrideLastAccess(ctx, "missing", before)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDirectory_Update(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "ana@x.com")))

	name := "X"
	u, err := d.Update(ctx, "1", domain.UserPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "X", u.Name)
	require.Equal(t, "1", u.DNI)
	require.Equal(t, "ana@x.com", u.Email)
	require.Equal(t, t0, u.CreatedAt)

	got, err := d.Find("1")
	require.NoError(t, err)
	require.Equal(t, "X", got.Name)
}

func TestDirectory_UpdateUnknown(t *testing.T) {
	ctx := context.Background()
	d, _, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "ana@x.com")))
	before, err := s.Get(ctx, DefaultKey)
	require.NoError(t, err)

	name := "X"
	_, err = d.Update(ctx, "2", domain.UserPatch{Name: &name})
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	after, err := s.Get(ctx, DefaultKey)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 1, d.Len())
}

func TestDirectory_Delete(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, d.Create(ctx, newUser(t, "2", "Luis", "l@x")))

	require.ErrorIs(t, d.Delete(ctx, "3"), domain.ErrUserNotFound)
	require.Equal(t, 2, d.Len())

	require.NoError(t, d.Delete(ctx, "1"))
	require.Equal(t, 1, d.Len())

	_, err := d.Find("1")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDirectory_AnaLuisScenario(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)

	require.NoError(t, d.Create(ctx, newUser(t, "12345678", "Ana", "ana@x.com")))
	require.NoError(t, d.Create(ctx, newUser(t, "87654321", "Luis", "luis@x.com")))
	require.NoError(t, d.Delete(ctx, "12345678"))

	all := d.List()
	require.Len(t, all, 1)
	require.Equal(t, "87654321", all[0].DNI)
}

func TestDirectory_ListOrderAndAliasing(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	for _, dni := range []string{"c", "a", "b"} {
		require.NoError(t, d.Create(ctx, newUser(t, dni, dni, "")))
	}

	list := d.List()
	require.Equal(t, []string{"c", "a", "b"}, dnis(list))

	// Mutating the slice does not affect the directory.
	list[0] = nil
	require.Equal(t, []string{"c", "a", "b"}, dnis(d.List()))

	// Mutating an entity does.
	d.List()[1].Name = "changed"
	got, err := d.Find("a")
	require.NoError(t, err)
	require.Equal(t, "changed", got.Name)

	// Snapshot copies do not alias.
	snap := d.Snapshot()
	snap[0].Name = "copy"
	got, err = d.Find("c")
	require.NoError(t, err)
	require.Equal(t, "c", got.Name)
}

func TestDirectory_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, clk, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "ana@x.com")))
	clk.Advance(time.Minute)
	require.NoError(t, d.Create(ctx, newUser(t, "2", "Luis", "luis@x.com")))
	_, err := d.OverrideLastAccess(ctx, "2", t0.Add(-72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, d.Save(ctx))

	fresh, err := Open(ctx, WithStore(s), WithClock(clk))
	require.NoError(t, err)
	require.ElementsMatch(t, tuples(d.List()), tuples(fresh.List()))
}

func TestDirectory_LoadAdditive(t *testing.T) {
	ctx := context.Background()

	// Stored snapshot: 1 (renamed) and 3.
	s := memory.New()
	seed := New(WithStore(s))
	require.NoError(t, seed.Create(ctx, newUser(t, "1", "Ana (stored)", "a@x")))
	require.NoError(t, seed.Create(ctx, newUser(t, "3", "Eva", "e@x")))

	d := New(WithStore(s), WithClock(clock.NewManual(t0)))
	// In-memory only state, not persisted: 2 then 1.
	d.users["2"] = newUser(t, "2", "Luis", "l@x")
	d.users["1"] = newUser(t, "1", "Ana (memory)", "a@x")
	d.order = []string{"2", "1"}

	require.NoError(t, d.Load(ctx))

	require.Equal(t, []string{"2", "1", "3"}, dnis(d.List()))
	got, err := d.Find("1")
	require.NoError(t, err)
	require.Equal(t, "Ana (stored)", got.Name)
}

func TestDirectory_LoadTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, _, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	fresh := New(WithStore(s))
	require.NoError(t, fresh.Load(ctx))
	require.NoError(t, fresh.Load(ctx))
	require.Equal(t, 1, fresh.Len())
}

func TestDirectory_LoadMissingKey(t *testing.T) {
	d, err := Open(context.Background(), WithStore(memory.New()))
	require.NoError(t, err)
	require.Zero(t, d.Len())
}

func TestDirectory_LoadMalformed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Put(ctx, DefaultKey, []byte(`[{"dni":"9","createdAt":"nope"}]`)))

	d := New(WithStore(memory.New()))
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	d.store = s
	err := d.Load(ctx)
	require.ErrorIs(t, err, domain.ErrMalformedSnapshot)
	require.Equal(t, []string{"1"}, dnis(d.List()))

	_, err = Open(ctx, WithStore(s))
	require.ErrorIs(t, err, domain.ErrMalformedSnapshot)
}

func TestDirectory_Reload(t *testing.T) {
	ctx := context.Background()
	a, _, s := newTestDirectory(t)
	require.NoError(t, a.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, a.Create(ctx, newUser(t, "2", "Luis", "l@x")))

	b, err := Open(ctx, WithStore(s))
	require.NoError(t, err)
	ana, err := b.Find("1")
	require.NoError(t, err)

	// a deletes Luis, renames Ana and adds Eva behind b's back.
	require.NoError(t, a.Delete(ctx, "2"))
	name := "Ana María"
	_, err = a.Update(ctx, "1", domain.UserPatch{Name: &name})
	require.NoError(t, err)
	require.NoError(t, a.Create(ctx, newUser(t, "3", "Eva", "e@x")))

	require.NoError(t, b.Reload(ctx))
	require.Equal(t, []string{"1", "3"}, dnis(b.List()))
	require.Equal(t, "Ana María", ana.Name, "entities stay attached across reloads")

	_, err = b.Find("2")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestDirectory_ReloadMissingKeyEmpties(t *testing.T) {
	ctx := context.Background()
	d, _, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, s.Delete(ctx, DefaultKey))

	require.NoError(t, d.Reload(ctx))
	require.Zero(t, d.Len())
}

func TestDirectory_ReloadMalformedKeepsState(t *testing.T) {
	ctx := context.Background()
	d, _, s := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, s.Put(ctx, DefaultKey, []byte(`null`)))

	require.ErrorIs(t, d.Reload(ctx), domain.ErrMalformedSnapshot)
	require.Equal(t, []string{"1"}, dnis(d.List()))
}

func TestDirectory_ReloadWithoutStore(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, d.Reload(ctx))
	require.Equal(t, 1, d.Len())
}

func TestDirectory_LoadEmptyValue(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Put(ctx, DefaultKey, []byte{}))

	d, err := Open(ctx, WithStore(s))
	require.NoError(t, err)
	require.Zero(t, d.Len())
}

func TestDirectory_CustomKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := New(WithStore(s), WithKey("otro"))
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	_, err := s.Get(ctx, "otro")
	require.NoError(t, err)
	_, err = s.Get(ctx, DefaultKey)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDirectory_InMemoryOnly(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))
	require.NoError(t, d.Save(ctx))
	require.NoError(t, d.Load(ctx))
	require.Equal(t, 1, d.Len())
}

func TestDirectory_RollbackOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")

	ms := new(MockStore)
	d := New(WithStore(ms), WithClock(clock.NewManual(t0)))

	ms.On("Put", mock.Anything, DefaultKey, mock.Anything).Return(nil).Once()
	require.NoError(t, d.Create(ctx, newUser(t, "1", "Ana", "a@x")))

	ms.On("Put", mock.Anything, DefaultKey, mock.Anything).Return(boom)

	t.Run("create", func(t *testing.T) {
		err := d.Create(ctx, newUser(t, "2", "Luis", "l@x"))
		require.ErrorIs(t, err, domain.ErrPersistence)
		require.ErrorIs(t, err, boom)
		require.Equal(t, []string{"1"}, dnis(d.List()))
	})

	t.Run("update", func(t *testing.T) {
		name := "X"
		_, err := d.Update(ctx, "1", domain.UserPatch{Name: &name})
		require.ErrorIs(t, err, domain.ErrPersistence)
		got, _ := d.Find("1")
		require.Equal(t, "Ana", got.Name)
	})

	t.Run("override", func(t *testing.T) {
		_, err := d.OverrideLastAccess(ctx, "1", t0.Add(-100*time.Hour))
		require.ErrorIs(t, err, domain.ErrPersistence)
		got, _ := d.Find("1")
		require.Equal(t, t0, got.LastAccess)
	})

	t.Run("delete", func(t *testing.T) {
		err := d.Delete(ctx, "1")
		require.ErrorIs(t, err, domain.ErrPersistence)
		require.Equal(t, []string{"1"}, dnis(d.List()))
	})

	t.Run("save", func(t *testing.T) {
		require.ErrorIs(t, d.Save(ctx), domain.ErrPersistence)
	})
}

func TestDirectory_DeleteRollbackKeepsPosition(t *testing.T) {
	ctx := context.Background()
	ms := new(MockStore)
	d := New(WithStore(ms))

	ms.On("Put", mock.Anything, DefaultKey, mock.Anything).Return(nil).Times(3)
	for _, dni := range []string{"a", "b", "c"} {
		require.NoError(t, d.Create(ctx, newUser(t, dni, dni, "")))
	}
	ms.On("Put", mock.Anything, DefaultKey, mock.Anything).Return(errors.New("offline"))

	require.Error(t, d.Delete(ctx, "b"))
	require.Equal(t, []string{"a", "b", "c"}, dnis(d.List()))
}

func TestDirectory_LoadStoreError(t *testing.T) {
	ms := new(MockStore)
	ms.On("Get", mock.Anything, DefaultKey).Return(nil, errors.New("connection refused"))

	_, err := Open(context.Background(), WithStore(ms))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrMalformedSnapshot)
	ms.AssertExpectations(t)
}

func TestDirectory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDirectory(t)
	require.NoError(t, d.Create(ctx, newUser(t, "shared", "S", "")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dni := string(rune('a' + i))
			_ = d.Create(ctx, &domain.User{DNI: dni, CreatedAt: t0, LastAccess: t0})
			_, _ = d.RecordAccess(ctx, "shared")
			_ = d.Snapshot()
			_, _ = d.Get("shared")
		}(i)
	}
	wg.Wait()

	require.Equal(t, 17, d.Len())
}

func dnis(users []*domain.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.DNI)
	}
	return out
}

func tuples(users []*domain.User) []domain.User {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		out = append(out, *u)
	}
	return out
}
