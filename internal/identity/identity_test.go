package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveEntryIDStable(t *testing.T) {
	a := DeriveEntryID("a.cbz", "100-aaaaaaaaaaaaaaaa")
	b := DeriveEntryID("a.cbz", "100-aaaaaaaaaaaaaaaa")
	assert.Equal(t, a, b)
	assert.Len(t, a, HashLen)
	assert.Equal(t, strings.ToLower(a), a)

	assert.NotEqual(t, a, DeriveEntryID("b.cbz", "100-aaaaaaaaaaaaaaaa"))
}

func TestDeriveEntryIDKnownValues(t *testing.T) {
	// 5381*33 + 'a' = 177670 = 0x2b606
	assert.Equal(t, "000000000002b606", djb2("a"))
	assert.Equal(t, "0000000000001505", djb2(""))
}

func TestExtractContentKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"canonical", "100-0123456789abcdef", "100-0123456789abcdef"},
		{"legacy", "a.cbz-100-0123456789abcdef", "100-0123456789abcdef"},
		{"legacy name with dashes", "my-book-vol-1.zip-2048-fedcba9876543210", "2048-fedcba9876543210"},
		{"garbage", "not a key", "not a key"},
		{"short hash", "100-abc", "100-abc"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractContentKey(tt.raw))
		})
	}
}

func TestIsCorrupted(t *testing.T) {
	assert.False(t, IsCorrupted("100-0123456789abcdef"))
	assert.False(t, IsCorrupted("x-100-0123456789abcdef"))
	assert.False(t, IsCorrupted("plain garbage"))
	assert.True(t, IsCorrupted(`Optional("100-0123456789abcdef")`))
}

func TestKeyForFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cbz")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	key, err := KeyForFile(path, NewXXHash())
	require.NoError(t, err)
	assert.True(t, IsContentKey(key), key)
	assert.True(t, strings.HasPrefix(key, "11-"))

	again, err := KeyForFile(path, NewXXHash())
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = KeyForFile(filepath.Join(dir, "missing"), NewXXHash())
	assert.Error(t, err)
	_, err = KeyForFile(dir, NewXXHash())
	assert.Error(t, err)
}

func TestXXHashLimit(t *testing.T) {
	full := XXHash{}
	short := XXHash{Limit: 4}

	a, err := short.Sum(strings.NewReader("abcdXXXX"))
	require.NoError(t, err)
	b, err := short.Sum(strings.NewReader("abcdYYYY"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := full.Sum(strings.NewReader("abcdXXXX"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
