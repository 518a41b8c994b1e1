package utils

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestLookupMissingLevels(t *testing.T) {
	card := decode(t, `{"a":{"b":{"c":"x"}},"n":null,"s":"str"}`)

	v, ok := Lookup(card, "a", "b", "c")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = Lookup(card, "a", "missing", "c")
	assert.False(t, ok)

	_, ok = Lookup(card, "s", "deeper")
	assert.False(t, ok, "scalar in the middle of a path")

	_, ok = Lookup(card, "n")
	assert.False(t, ok, "null leaf")

	_, ok = Lookup(nil, "a")
	assert.False(t, ok)
}

func TestSpanText(t *testing.T) {
	card := decode(t, `{
		"title": {"textSpans": [{"text": "First"}, {"text": "Second"}]},
		"empty": {"textSpans": []},
		"broken": {"textSpans": "nope"},
		"noText": {"textSpans": [{"style": "BOLD"}]}
	}`)

	text, ok := SpanText(card, "title")
	assert.True(t, ok)
	assert.Equal(t, "First", text)

	for _, key := range []string{"empty", "broken", "noText", "absent"} {
		_, ok := SpanText(card, key)
		assert.False(t, ok, key)
	}
}

func TestStringCoercion(t *testing.T) {
	assert.Equal(t, "", String(nil))
	assert.Equal(t, "abc", String("abc"))
	assert.Equal(t, "123456789012345", String(json.Number("123456789012345")))
	assert.Equal(t, "12.5", String(12.5))
	assert.Equal(t, "true", String(true))
}

func TestNumber(t *testing.T) {
	f, ok := Number(json.Number("19.99"))
	assert.True(t, ok)
	assert.Equal(t, 19.99, f)

	_, ok = Number("19.99")
	assert.False(t, ok, "strings are not parsed")

	_, ok = Number(nil)
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))

	got := Truncate(strings.Repeat("é", 10), 4)
	assert.Equal(t, 4, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}
