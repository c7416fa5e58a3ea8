package dcontext

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRequest(t *testing.T) {
	r := httptest.NewRequest("PUT", "/some/resource?x=1", nil)
	r.Header.Set("X-Forwarded-For", "192.168.0.1, 10.0.0.1")

	ctx := WithRequest(Background(), r)

	assert.NotEmpty(t, GetRequestID(ctx))
	assert.Equal(t, "PUT", GetStringValue(ctx, RequestMethodKey))
	assert.Equal(t, "/some/resource?x=1", GetStringValue(ctx, RequestURIKey))
	assert.Equal(t, "192.168.0.1", GetStringValue(ctx, RequestRemoteAddrKey))
	assert.GreaterOrEqual(t, Since(ctx, RequestStartedAtKey), time.Duration(0))
	assert.NotNil(t, GetLogger(ctx))
}

func TestWithRequestKeepsProvidedID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-Id", "abc")

	ctx := WithRequest(Background(), r)
	assert.Equal(t, "abc", GetRequestID(ctx))
}

func TestDetachedContextOutlivesParent(t *testing.T) {
	parent, cancel := context.WithCancel(WithValues(Background(), map[string]interface{}{"k": "v"}))
	detached := DetachedContext(parent)
	cancel()

	require.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "v", GetStringValue(detached, "k"))
}

func TestInstanceIDIsStable(t *testing.T) {
	first := GetStringValue(Background(), "instance.id")
	assert.NotEmpty(t, first)
	assert.Equal(t, first, GetStringValue(Background(), "instance.id"))
}
