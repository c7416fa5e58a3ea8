package requestutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	assert.Equal(t, "10.0.0.5:1234", RemoteAddr(r))

	r.Header.Set("X-Real-Ip", "172.16.0.1")
	assert.Equal(t, "172.16.0.1", RemoteAddr(r))

	r.Header.Set("X-Forwarded-For", " 192.168.1.1 , 172.16.0.1")
	assert.Equal(t, "192.168.1.1", RemoteAddr(r))

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "172.16.0.1", RemoteAddr(r))
}

func TestQueryValues(t *testing.T) {
	r := httptest.NewRequest("GET", "/a?recursive=TRUE&offset=3&limit=x", nil)

	assert.True(t, QueryBool(r, "recursive"))
	assert.False(t, QueryBool(r, "merge"))

	n, err := QueryInt(r, "offset", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = QueryInt(r, "count", -1)
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	_, err = QueryInt(r, "limit", -1)
	assert.Error(t, err)
}

func TestHeaderSeconds(t *testing.T) {
	r := httptest.NewRequest("PUT", "/a", nil)

	d, err := HeaderSeconds(r, "x-expire-after")
	require.NoError(t, err)
	assert.Zero(t, d)

	r.Header.Set("x-expire-after", "30")
	d, err = HeaderSeconds(r, "x-expire-after")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	r.Header.Set("x-expire-after", "soon")
	_, err = HeaderSeconds(r, "x-expire-after")
	assert.Error(t, err)
}
