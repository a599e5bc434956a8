// Package pagination implements keyset pagination over (created_at, id).
// Cursors are opaque, URL-safe tokens so they can travel in query strings.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds the caller supplied page size and cursor token.
type Params struct {
	Limit  int
	Cursor string
}

// Page is one page of results plus the token for the next one, if any.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Cursor is the last (created_at, id) pair a client has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Where returns the keyset predicate selecting rows strictly after c when
// ordering by created_at, id ascending.
func (c Cursor) Where() (string, []any) {
	return "(created_at > ? OR (created_at = ? AND id > ?))", []any{c.CreatedAt, c.CreatedAt, c.ID}
}

// NormalizeLimit clamps limit into [1, MaxLimit], defaulting when unset.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer is the row count to fetch so Trim can tell whether a next
// page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Trim cuts rows fetched with LimitWithBuffer down to the page size and
// builds the next cursor from the last kept row.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) Page[T] {
	size := NormalizeLimit(limit)
	if len(rows) <= size {
		return Page[T]{Items: rows}
	}
	kept := rows[:size]
	return Page[T]{Items: kept, NextCursor: EncodeCursor(cursorOf(kept[size-1]))}
}

func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UTC().UnixNano(), 36) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by EncodeCursor. A blank token means
// the first page and yields a nil cursor.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	stamp, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}
	nanos, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidCursor, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: parsedID}, nil
}
