package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cursor is the keyset position of the last row of a page.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// EncodeCursor returns the opaque, URL-safe token for a position.
func EncodeCursor(createdAt time.Time, id string) string {
	// Marshalling a time and a string cannot fail.
	raw, _ := json.Marshal(Cursor{CreatedAt: createdAt.UTC(), ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. Padded tokens are
// accepted as well.
func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, errors.New("cursor is missing its position")
	}
	return &c, nil
}

// before reports whether (createdAt, id) sorts strictly after the cursor in
// the newest-first ordering, i.e. belongs on a later page.
func (c *Cursor) before(createdAt time.Time, id string) bool {
	if createdAt.Before(c.CreatedAt) {
		return true
	}
	return createdAt.Equal(c.CreatedAt) && id < c.ID
}
