package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/reststorage/reststorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStorage struct {
	reststorage.Storage
	failures int
	calls    int
}

func (s *stubStorage) Get(ctx context.Context, path string, opts reststorage.GetOptions) (reststorage.Resource, error) {
	s.calls++
	if s.calls <= s.failures {
		return reststorage.NewMissing(""), reststorage.BackendUnavailableError{Backend: "stub", Op: "get", Err: errors.New("down")}
	}
	return reststorage.NewCollection(""), nil
}

type stubFactory struct {
	storage *stubStorage
	params  map[string]interface{}
}

func (f *stubFactory) Create(ctx context.Context, parameters map[string]interface{}) (reststorage.Storage, error) {
	f.params = parameters
	return f.storage, nil
}

func TestCreateUnregistered(t *testing.T) {
	_, err := Create(context.Background(), "does-not-exist", nil)
	var invalid InvalidStorageDriverError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "does-not-exist", invalid.Name)
}

func TestCreateRetriesUntilReachable(t *testing.T) {
	f := &stubFactory{storage: &stubStorage{failures: 2}}
	Register("flaky", f)

	d, err := Create(context.Background(), "flaky", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Same(t, f.storage, d)
	assert.Equal(t, 3, f.storage.calls)
	assert.Equal(t, "v", f.params["k"])
}

func TestRegisterTwicePanics(t *testing.T) {
	Register("twice", &stubFactory{storage: &stubStorage{}})
	assert.Panics(t, func() {
		Register("twice", &stubFactory{storage: &stubStorage{}})
	})
	assert.Panics(t, func() {
		Register("nil", nil)
	})
}
