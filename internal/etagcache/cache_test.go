package etagcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(body string) Snapshot {
	return Snapshot{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(body),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "u1:github:/user/repos", Key("u1", "github", "/user/repos"))
}

func TestCache_SetGet(t *testing.T) {
	c := New(0, 0)
	key := Key("u1", "github", "/user/repos")

	c.Set(key, snapshot(`[{"repo":1}]`), `"abc"`)

	entry := c.Get(key)
	require.NotNil(t, entry)
	assert.Equal(t, `"abc"`, entry.ETag)
	assert.Equal(t, 200, entry.Snapshot.Status)
	assert.Equal(t, `[{"repo":1}]`, string(entry.Snapshot.Body))

	assert.Equal(t, `"abc"`, c.GetETag(key))
}

func TestCache_MissingKey(t *testing.T) {
	c := New(0, 0)

	assert.Nil(t, c.Get("absent"))
	assert.Equal(t, "", c.GetETag("absent"))
}

func TestCache_EmptyETagIsNoop(t *testing.T) {
	c := New(0, 0)

	c.Set("k", snapshot("body"), "")

	assert.Nil(t, c.Get("k"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(30*time.Millisecond, 10)

	c.Set("k", snapshot("body"), `"abc"`)
	require.NotNil(t, c.Get("k"))

	time.Sleep(40 * time.Millisecond)

	assert.Nil(t, c.Get("k"), "entry past TTL is expired")
	assert.Equal(t, 0, c.Len(), "expired entry is deleted on read")
}

func TestCache_FIFOEviction(t *testing.T) {
	c := New(0, 3)

	c.Set("first", snapshot("1"), `"e1"`)
	c.Set("second", snapshot("2"), `"e2"`)
	c.Set("third", snapshot("3"), `"e3"`)

	// Fourth insert evicts only the first-inserted entry
	c.Set("fourth", snapshot("4"), `"e4"`)

	assert.Nil(t, c.Get("first"))
	assert.NotNil(t, c.Get("second"))
	assert.NotNil(t, c.Get("third"))
	assert.NotNil(t, c.Get("fourth"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New(0, 2)

	c.Set("a", snapshot("1"), `"e1"`)
	c.Set("b", snapshot("2"), `"e2"`)

	// Replacing an existing key at capacity must not push anything out
	c.Set("a", snapshot("1b"), `"e1b"`)

	assert.Equal(t, `"e1b"`, c.GetETag("a"))
	assert.Equal(t, `"e2"`, c.GetETag("b"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_OverwriteMovesToBackOfEvictionOrder(t *testing.T) {
	c := New(0, 2)

	c.Set("a", snapshot("1"), `"e1"`)
	c.Set("b", snapshot("2"), `"e2"`)
	c.Set("a", snapshot("1b"), `"e1b"`)

	// "b" is now the oldest insertion and goes first
	c.Set("c", snapshot("3"), `"e3"`)

	assert.Nil(t, c.Get("b"))
	assert.NotNil(t, c.Get("a"))
	assert.NotNil(t, c.Get("c"))
}

func TestCache_Delete(t *testing.T) {
	c := New(0, 0)

	c.Set("k", snapshot("body"), `"abc"`)
	c.Delete("k")

	assert.Nil(t, c.Get("k"))

	// Deleting an absent key is fine
	c.Delete("k")
}

func TestCache_EvictionSurvivesChurn(t *testing.T) {
	c := New(0, 5)

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key-%d", i), snapshot("body"), `"etag"`)
	}

	assert.Equal(t, 5, c.Len())
	// The five most recent insertions remain
	for i := 45; i < 50; i++ {
		assert.NotNil(t, c.Get(fmt.Sprintf("key-%d", i)))
	}
}
