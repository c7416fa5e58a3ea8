package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshDefaultRegistry(t *testing.T) {
	t.Helper()
	saved := DefaultRegistry
	DefaultRegistry = NewRegistry()
	t.Cleanup(func() { DefaultRegistry = saved })
}

func TestStatusHandler(t *testing.T) {
	freshDefaultRegistry(t)

	rec := httptest.NewRecorder()
	StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	RegisterFunc("storage_redis", func(context.Context) error {
		return errors.New("redis: connection refused")
	})

	rec = httptest.NewRecorder()
	StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "redis: connection refused", body["storage_redis"])
}

func TestStatusHandlerRejectsWrites(t *testing.T) {
	freshDefaultRegistry(t)

	rec := httptest.NewRecorder()
	StatusHandler(rec, httptest.NewRequest(http.MethodPut, "/debug/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerGuardsWrappedHandler(t *testing.T) {
	freshDefaultRegistry(t)

	updater := NewStatusUpdater()
	Register("storage_filesystem", updater)

	srv := httptest.NewServer(Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	defer srv.Close()

	status := func() int {
		resp, err := http.Get(srv.URL + "/a/b")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, status())

	updater.Update(errors.New("root directory not writable"))
	assert.Equal(t, http.StatusServiceUnavailable, status())

	updater.Update(nil)
	assert.Equal(t, http.StatusNoContent, status())
}

func TestRegisterDuplicatePanics(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFunc("storage", func(context.Context) error { return nil })
	assert.Panics(t, func() {
		registry.RegisterFunc("storage", func(context.Context) error { return nil })
	})
}

func TestThresholdStatusUpdater(t *testing.T) {
	ctx := context.Background()
	u := NewThresholdStatusUpdater(2)

	u.Update(errors.New("timeout 1"))
	assert.NoError(t, u.Check(ctx), "below threshold")
	u.Update(errors.New("timeout 2"))
	assert.EqualError(t, u.Check(ctx), "timeout 2")

	u.Update(nil)
	assert.NoError(t, u.Check(ctx))
	u.Update(errors.New("timeout 3"))
	assert.NoError(t, u.Check(ctx), "count resets after a success")

	u.Update(pollingTerminatedErr{Err: context.Canceled})
	assert.ErrorIs(t, u.Check(ctx), context.Canceled, "termination ignores the threshold")
}

func TestThresholdZeroIsPlainUpdater(t *testing.T) {
	u := NewThresholdStatusUpdater(0)
	u.Update(errors.New("down"))
	assert.EqualError(t, u.Check(context.Background()), "down")
}

func TestPollStopsWithContext(t *testing.T) {
	for _, threshold := range []int{0, 5} {
		ctx, cancel := context.WithCancel(context.Background())

		calls := make(chan struct{}, 1)
		checker := CheckFunc(func(context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		})

		u := NewThresholdStatusUpdater(threshold)
		done := make(chan struct{})
		go func() {
			Poll(ctx, u, checker, time.Millisecond)
			close(done)
		}()

		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("threshold=%d: checker was never called", threshold)
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("threshold=%d: poll did not return", threshold)
		}
		assert.ErrorIs(t, u.Check(context.Background()), context.Canceled)
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	freshDefaultRegistry(t)

	isolated := NewRegistry()
	isolated.RegisterFunc("failing", func(context.Context) error {
		return errors.New("isolated failure")
	})

	assert.Empty(t, CheckStatus(context.Background()))
	assert.Equal(t, "isolated failure", isolated.CheckStatus(context.Background())["failing"])
}
