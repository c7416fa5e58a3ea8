package reststorage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	for in, expected := range map[string]string{
		"":               "/",
		"/":              "/",
		"a":              "/a",
		"/a/b/c":         "/a/b/c",
		"/a//b/":         "/a/b",
		"/a/./b":         "/a/b",
		"/.tmpfile":      "/.tmpfile",
		"/a/.tmp":        "/a/.tmp",
		"/server/x.json": "/server/x.json",
	} {
		got, err := CanonicalPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, got, in)
	}
}

func TestCanonicalPathRejects(t *testing.T) {
	for _, in := range []string{"/a/../b", "..", "/a:b", "/.tmp", "/.tmp/abc", "a\x00b"} {
		_, err := CanonicalPath(in)
		require.Error(t, err, in)

		var ip InvalidPathError
		assert.True(t, errors.As(err, &ip), in)
		assert.True(t, IsBadRequest(err), in)
	}
}

func TestSegments(t *testing.T) {
	assert.Nil(t, Segments("/"))
	assert.Equal(t, []string{"a", "b", "c"}, Segments("/a/b/c"))
	assert.Equal(t, "c", BaseName("/a/b/c"))
	assert.Equal(t, "", BaseName("/"))
	assert.True(t, IsRoot("/"))
	assert.False(t, IsRoot("/a"))
}
