package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorCodec(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 30, 0, 123456000, time.UTC)

	t.Run("should decode what it encodes", func(t *testing.T) {
		token := EncodeCursor(at, "node-9")
		assert.NotContains(t, token, "=")
		assert.NotContains(t, token, "+")

		c, err := DecodeCursor(token)
		require.NoError(t, err)
		assert.Equal(t, "node-9", c.ID)
		assert.True(t, c.CreatedAt.Equal(at))
	})

	t.Run("should accept padded tokens", func(t *testing.T) {
		raw := `{"createdAt":"2025-06-01T08:30:00Z","id":"x"}`
		c, err := DecodeCursor(base64.URLEncoding.EncodeToString([]byte(raw)))
		require.NoError(t, err)
		assert.Equal(t, "x", c.ID)
	})

	t.Run("should reject tokens that are not a position", func(t *testing.T) {
		for _, token := range []string{
			"***",
			base64.RawURLEncoding.EncodeToString([]byte("not json")),
			base64.RawURLEncoding.EncodeToString([]byte(`{"id":"x"}`)),
		} {
			_, err := DecodeCursor(token)
			assert.Error(t, err, token)
		}
	})
}

func TestEscapeLikePattern(t *testing.T) {
	assert.Equal(t, `50\%`, escapeLikePattern("50%"))
	assert.Equal(t, `class\_size`, escapeLikePattern("class_size"))
	assert.Equal(t, `a\\b`, escapeLikePattern(`a\b`))
	// A backslash already escaping a metacharacter must not cancel the new escape.
	assert.Equal(t, `\\\%`, escapeLikePattern(`\%`))
}

func TestTruncateSearch(t *testing.T) {
	long := strings.Repeat("é", MaxSearchLength+20)
	assert.Len(t, []rune(truncateSearch(long)), MaxSearchLength)
	assert.Equal(t, "short", truncateSearch("short"))
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultPageSize, 0: DefaultPageSize, 1: 1, 100: 100, 101: MaxPageSize}
	for in, want := range cases {
		assert.Equal(t, want, normalizeLimit(in), "limit %d", in)
	}
}

func TestGraphError(t *testing.T) {
	err := fmt.Errorf("creating edge: %w", nodeNotFound("n-1"))

	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.NotErrorIs(t, err, ErrEdgeNotFound)
	assert.Equal(t, CodeNodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "n-1")
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("boom")))

	cause := errors.New("unique_violation")
	dup := duplicateEdge("a", "b", "INFORMED", cause)
	assert.ErrorIs(t, dup, cause)
	assert.ErrorIs(t, dup, ErrDuplicateEdge)
}
