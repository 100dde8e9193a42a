package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/userdir/internal/domain"
)

// record is the persisted form of a user. Field names are part of the
// stored format and must not change.
type record struct {
	DNI        string `json:"dni"`
	Name       string `json:"nombre"`
	Email      string `json:"correo"`
	CreatedAt  string `json:"createdAt"`
	LastAccess string `json:"lastAccess"`
}

// Encode serializes users as a JSON array in the given order.
func Encode(users []*domain.User) ([]byte, error) {
	records := make([]record, 0, len(users))
	for _, u := range users {
		records = append(records, record{
			DNI:        u.DNI,
			Name:       u.Name,
			Email:      u.Email,
			CreatedAt:  formatTimestamp(u.CreatedAt),
			LastAccess: formatTimestamp(u.LastAccess),
		})
	}
	return json.Marshal(records)
}

// Decode parses a snapshot produced by Encode. An empty value decodes to no
// users. Anything else that is not an array of valid records, JSON null
// included, is reported as domain.ErrMalformedSnapshot.
func Decode(data []byte) ([]*domain.User, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedSnapshot, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: snapshot is null", domain.ErrMalformedSnapshot)
	}

	users := make([]*domain.User, 0, len(records))
	for i, r := range records {
		if strings.TrimSpace(r.DNI) == "" {
			return nil, fmt.Errorf("%w: record %d has no dni", domain.ErrMalformedSnapshot, i)
		}
		createdAt, err := parseTimestamp(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d (%s) createdAt: %w", domain.ErrMalformedSnapshot, i, r.DNI, err)
		}
		lastAccess, err := parseTimestamp(r.LastAccess)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d (%s) lastAccess: %w", domain.ErrMalformedSnapshot, i, r.DNI, err)
		}

		users = append(users, &domain.User{
			DNI:        r.DNI,
			Name:       r.Name,
			Email:      r.Email,
			CreatedAt:  createdAt,
			LastAccess: lastAccess,
		})
	}
	return users, nil
}

func formatTimestamp(t time.Time) string {
	return domain.Normalize(t).Format(domain.TimestampLayout)
}

// parseTimestamp accepts any RFC 3339 timestamp, which covers the
// millisecond layout we write.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Normalize(t), nil
}
