package querykey_test

import (
	"testing"

	"github.com/illmade-knight/go-querycache/pkg/querykey"
	"github.com/stretchr/testify/assert"
)

func TestKey_MapOrderInsensitive(t *testing.T) {
	a := querykey.New("todos", map[string]any{"page": 1, "filter": "done"})
	b := querykey.New("todos", map[string]any{"filter": "done", "page": 1})

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Canonical(), b.Canonical(), "equal keys must hash to the same map key")
}

func TestKey_SetOrderInsensitive(t *testing.T) {
	a := querykey.New("tags", querykey.Set{"red", "green", "blue"})
	b := querykey.New("tags", querykey.Set{"blue", "red", "green"})

	assert.True(t, a.Equal(b))
}

func TestKey_SequenceOrderSensitive(t *testing.T) {
	a := querykey.New("users", 1)
	b := querykey.New(1, "users")

	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Canonical(), b.Canonical())
}

func TestKey_SliceOrderSensitive(t *testing.T) {
	a := querykey.New([]any{"a", "b"})
	b := querykey.New([]any{"b", "a"})

	assert.False(t, a.Equal(b))
}

func TestKey_NestedMapOrderInsensitive(t *testing.T) {
	a := querykey.New("report", map[string]any{
		"range": map[string]any{"from": 1, "to": 2},
		"tz":    "UTC",
	})
	b := querykey.New("report", map[string]any{
		"tz":    "UTC",
		"range": map[string]any{"to": 2, "from": 1},
	})

	assert.True(t, a.Equal(b))
}

func TestKey_DistinguishesValues(t *testing.T) {
	assert.False(t, querykey.New("users", 1).Equal(querykey.New("users", 2)))
	assert.False(t, querykey.New("users").Equal(querykey.New("user")))
	assert.False(t, querykey.New(1).Equal(querykey.New("1")), "number and string must differ")
	assert.False(t, querykey.New(true).Equal(querykey.New("true")))
}

func TestKey_NilAndPointerParts(t *testing.T) {
	n := 42
	assert.True(t, querykey.New(nil).Equal(querykey.New(nil)))
	assert.True(t, querykey.New(&n).Equal(querykey.New(42)), "pointers canonicalize to their pointee")
}

func TestKey_ZeroValue(t *testing.T) {
	var zero querykey.Key
	assert.True(t, zero.Equal(querykey.New()))
	assert.Equal(t, "[]", zero.Canonical())
}

func TestKey_StructParts(t *testing.T) {
	type filter struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	a := querykey.New("items", filter{Status: "open", Limit: 10})
	b := querykey.New("items", filter{Status: "open", Limit: 10})
	c := querykey.New("items", filter{Status: "closed", Limit: 10})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
