package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/health"
)

// FileChecker checks the existence of a file and returns an error
// if the file exists, taking the application out of rotation.
func FileChecker(f string) health.Checker {
	return health.CheckFunc(func(context.Context) error {
		if _, err := os.Stat(f); err == nil {
			return errors.New("file exists")
		}
		return nil
	})
}

// HTTPChecker does a HEAD request and verifies that the HTTP status code
// returned matches statusCode.
func HTTPChecker(r string, statusCode int, timeout time.Duration) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		client := http.Client{
			Timeout: timeout,
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, r, nil)
		if err != nil {
			return errors.New("error creating request: " + r)
		}
		response, err := client.Do(req)
		if err != nil {
			return errors.New("error while checking: " + r)
		}
		defer response.Body.Close()
		if response.StatusCode != statusCode {
			return fmt.Errorf("downstream service returned unexpected status: %d", response.StatusCode)
		}
		return nil
	})
}

// checkable is implemented by backends with a dedicated liveness probe.
type checkable interface {
	Check(ctx context.Context) error
}

// StorageChecker probes the backend. Backends without a probe are checked
// by listing the root collection.
func StorageChecker(storage reststorage.Storage, timeout time.Duration) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if c, ok := storage.(checkable); ok {
			return c.Check(ctx)
		}
		_, err := storage.Get(ctx, reststorage.RootPath, reststorage.GetOptions{Count: 1})
		return err
	})
}
