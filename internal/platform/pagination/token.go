// Package pagination implements the opaque cursor tokens shared by the
// Firestore list queries. Tokens are base64 URL-safe JSON so clients can
// round-trip them without caring about their shape.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPageToken is returned when a page token cannot be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor represents the Firestore pagination cursor payload.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// EncodeToken serialises the provided cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}

// EncodeTimeCursor builds the token for queries ordered by a timestamp with
// the document ID as tie breaker, the layout every list endpoint uses.
func EncodeTimeCursor(at time.Time, id string) (string, error) {
	return EncodeToken(Cursor{StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id}})
}

// DecodeTimeCursor unpacks a token produced by EncodeTimeCursor.
func DecodeTimeCursor(token string) (time.Time, string, error) {
	cursor, err := DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor shape", ErrInvalidPageToken)
	}
	rawAt, okAt := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okAt || !okID || id == "" {
		return time.Time{}, "", fmt.Errorf("%w: unexpected cursor values", ErrInvalidPageToken)
	}
	at, err := time.Parse(time.RFC3339Nano, rawAt)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return at, id, nil
}

// ClampPageSize normalises a client-requested page size against the
// endpoint's default and ceiling.
func ClampPageSize(requested, fallback, max int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > max {
		return max
	}
	return requested
}
