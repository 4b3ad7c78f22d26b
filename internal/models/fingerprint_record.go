package models

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type RecordKind uint8

const (
	// KindLegacy records were stored as a bare hex string: no author, no time.
	KindLegacy RecordKind = iota
	// KindFull records carry author and creation time.
	KindFull
)

var ErrRecordShape = errors.New("unexpected fingerprint record shape")

// FingerprintRecord is one stored image fingerprint. Legacy records keep
// AuthorID empty and CreatedAt zero; everything past the store boundary only
// looks at those optionals, never at Kind.
type FingerprintRecord struct {
	Kind      RecordKind
	Hash      string
	AuthorID  string
	CreatedAt time.Time
}

func LegacyRecord(hash string) FingerprintRecord {
	return FingerprintRecord{Kind: KindLegacy, Hash: hash}
}

func NewRecord(hash, authorID string, createdAt time.Time) FingerprintRecord {
	return FingerprintRecord{Kind: KindFull, Hash: hash, AuthorID: authorID, CreatedAt: createdAt.UTC()}
}

func (r FingerprintRecord) HasAuthor() bool { return r.AuthorID != "" }

func (r FingerprintRecord) HasTimestamp() bool { return !r.CreatedAt.IsZero() }

type recordJSON struct {
	Hash      string          `json:"hash"`
	UserID    json.RawMessage `json:"user_id"`
	Timestamp *string         `json:"timestamp,omitempty"`
}

// MarshalJSON always writes the structured shape. Numeric ids are written as
// JSON numbers, matching existing hash databases.
func (r FingerprintRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{Hash: r.Hash, UserID: encodeID(r.AuthorID)}
	if r.HasTimestamp() {
		ts := r.CreatedAt.UTC().Format(time.RFC3339Nano)
		out.Timestamp = &ts
	}
	return json.Marshal(out)
}

func (r *FingerprintRecord) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrRecordShape
	}
	switch data[0] {
	case '"':
		var hash string
		if err := json.Unmarshal(data, &hash); err != nil {
			return err
		}
		*r = LegacyRecord(hash)
		return nil
	case '{':
		var raw struct {
			Hash      *string         `json:"hash"`
			UserID    json.RawMessage `json:"user_id"`
			Timestamp *string         `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw.Hash == nil {
			return fmt.Errorf("%w: object without hash", ErrRecordShape)
		}
		author, err := decodeID(raw.UserID)
		if err != nil {
			return err
		}
		rec := FingerprintRecord{Kind: KindFull, Hash: *raw.Hash, AuthorID: author}
		if raw.Timestamp != nil {
			// An unreadable timestamp degrades to "unknown" rather than
			// discarding the whole record.
			if t, ok := ParseTimestamp(*raw.Timestamp); ok {
				rec.CreatedAt = t
			}
		}
		*r = rec
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrRecordShape, truncate(string(data), 32))
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 with or without offset; naive values are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func encodeID(id string) json.RawMessage {
	if id == "" {
		return json.RawMessage("null")
	}
	if isDigits(id) && len(id) <= 19 {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	s := string(raw)
	if !isDigits(s) {
		return "", fmt.Errorf("%w: user_id %s", ErrRecordShape, truncate(s, 32))
	}
	return s, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
