package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/domain"
)

func TestEncode_Format(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.UTC)
	users := []*domain.User{{
		DNI:        "12345678",
		Name:       "Ana",
		Email:      "ana@x.com",
		CreatedAt:  created,
		LastAccess: created.Add(90 * time.Minute),
	}}

	data, err := Encode(users)
	require.NoError(t, err)
	require.JSONEq(t, `[{
		"dni": "12345678",
		"nombre": "Ana",
		"correo": "ana@x.com",
		"createdAt": "2024-03-01T09:30:00.123Z",
		"lastAccess": "2024-03-01T11:00:00.123Z"
	}]`, string(data))
}

func TestEncode_Empty(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestDecode(t *testing.T) {
	data := []byte(`[
		{"dni":"1","nombre":"Ana","correo":"a@x","createdAt":"2024-03-01T09:30:00.000Z","lastAccess":"2024-03-02T10:00:00.500Z"},
		{"dni":"2","nombre":"Luis","correo":"l@x","createdAt":"2024-03-01T10:30:00+01:00","lastAccess":"2024-03-01T09:30:00Z"}
	]`)

	users, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, users, 2)

	require.Equal(t, "Ana", users[0].Name)
	require.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 500e6, time.UTC), users[0].LastAccess)

	// Offsets are normalized to UTC.
	require.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), users[1].CreatedAt)
	require.Equal(t, time.UTC, users[1].CreatedAt.Location())
}

func TestDecode_EmptyValue(t *testing.T) {
	for _, data := range []string{"", "  \n"} {
		users, err := Decode([]byte(data))
		require.NoError(t, err)
		require.Empty(t, users)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"null", `null`},
		{"object instead of array", `{"dni":"1"}`},
		{"empty dni", `[{"dni":"","nombre":"x","correo":"y","createdAt":"2024-03-01T09:30:00.000Z","lastAccess":"2024-03-01T09:30:00.000Z"}]`},
		{"bad createdAt", `[{"dni":"1","createdAt":"yesterday","lastAccess":"2024-03-01T09:30:00.000Z"}]`},
		{"missing lastAccess", `[{"dni":"1","createdAt":"2024-03-01T09:30:00.000Z"}]`},
		{"wrong field type", `[{"dni":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.ErrorIs(t, err, domain.ErrMalformedSnapshot)
		})
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 10e6, time.UTC)
	in := []*domain.User{
		{DNI: "1", Name: "Ana", Email: "ana@x.com", CreatedAt: now, LastAccess: now.Add(time.Hour)},
		{DNI: "2", Name: "Ñandú", Email: "", CreatedAt: now, LastAccess: now.Add(-48 * time.Hour)},
	}

	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
