package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/storage/upload"
)

// httpError pairs an error with the status it is served with.
type httpError struct {
	Status  int
	Message string
	Err     error
}

func (err httpError) Error() string {
	return err.Err.Error()
}

func (err httpError) Unwrap() error {
	return err.Err
}

// classify maps err onto the response status of the error taxonomy.
func classify(err error) httpError {
	var transport upload.TransportError

	switch {
	case errors.Is(err, reststorage.ErrAdmissionRejected):
		return httpError{Status: http.StatusInsufficientStorage, Message: http.StatusText(http.StatusInsufficientStorage), Err: err}
	case reststorage.IsBadRequest(err):
		return httpError{Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, reststorage.ErrConflict):
		return httpError{Status: http.StatusConflict, Message: http.StatusText(http.StatusConflict), Err: err}
	case errors.Is(err, reststorage.ErrNotImplemented):
		return httpError{Status: http.StatusNotImplemented, Message: http.StatusText(http.StatusNotImplemented), Err: err}
	case reststorage.IsBackendUnavailable(err):
		return httpError{Status: http.StatusServiceUnavailable, Message: http.StatusText(http.StatusServiceUnavailable), Err: err}
	case errors.As(err, &transport):
		return httpError{Status: http.StatusInternalServerError, Message: http.StatusText(http.StatusInternalServerError), Err: err}
	}
	return httpError{Status: http.StatusInternalServerError, Message: http.StatusText(http.StatusInternalServerError), Err: err}
}

// serveError logs err and completes the request with the mapped status.
func serveError(ctx context.Context, w http.ResponseWriter, err error) {
	herr := classify(err)

	log := dcontext.GetLogger(ctx).WithError(err)
	if herr.Status >= http.StatusInternalServerError && herr.Status != http.StatusInsufficientStorage && herr.Status != http.StatusNotImplemented {
		log.Error("request failed")
	} else {
		log.Info("request refused")
	}

	serveText(w, herr.Status, herr.Message)
}
