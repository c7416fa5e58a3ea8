// Package upload drives a document body from the client into a backend
// staging area and promotes it to its final path.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	prometheus "github.com/reststorage/reststorage/metrics"
)

// State is a step of an upload.
type State int

// Upload states. A transfer always ends in Done or CleanedUp.
const (
	Admitting State = iota
	Staging
	Streaming
	Committing
	Done
	Erroring
	CleanedUp
)

var stateNames = [...]string{"admitting", "staging", "streaming", "committing", "done", "erroring", "cleanedup"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	// DefaultChunkSize is the amount read from the body per pump step.
	DefaultChunkSize = 32 << 10

	// DefaultBufferSize bounds the bytes held before the staged writer must
	// accept them.
	DefaultBufferSize = 64 << 10
)

// uploadCounter counts finished uploads by outcome.
var uploadCounter = prometheus.UploadNamespace.NewLabeledCounter("transfers", "The number of finished uploads", "outcome")

// TransportError reports a failure reading the request body, including a
// client disconnect or a body shorter than announced.
type TransportError struct {
	Path    string
	Written int64
	Err     error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("upload to %s interrupted after %d bytes: %v", err.Path, err.Written, err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}

// Request describes one document write.
type Request struct {
	Path   string
	Header http.Header

	// Body is read until EOF. ContentLength is the announced length, or
	// -1 when unknown.
	Body          io.Reader
	ContentLength int64

	Options reststorage.PutOptions
}

// Pipeline admits, stages, streams and commits document writes.
type Pipeline struct {
	Storage   reststorage.Storage
	Admission Admission

	// ChunkSize and BufferSize default to DefaultChunkSize and
	// DefaultBufferSize.
	ChunkSize  int
	BufferSize int
}

// Transfer is the record of one upload.
type Transfer struct {
	Path string

	// Resource is the result of the backend put. It is nil when the
	// transfer was refused at admission.
	Resource reststorage.Resource

	// Written is the number of body bytes accepted by the staged writer.
	Written int64

	state   State
	history []State

	cancelOnce sync.Once
	cancelErr  error
}

// State returns the current state.
func (t *Transfer) State() State { return t.state }

// History returns every state the transfer went through, in order.
func (t *Transfer) History() []State { return append([]State(nil), t.history...) }

func (t *Transfer) enter(s State) {
	t.state = s
	t.history = append(t.history, s)
}

// Put runs req through the pipeline. The returned transfer is never nil. A
// non-nil error is a BadRequestError, ErrAdmissionRejected, a
// TransportError, ErrNotImplemented or a backend error; in every error case
// after staging the staging artifact has been removed.
//
// When the backend answers with anything other than a document ready for
// streaming (existing collection, lock rejection, unmodified etag) the body
// is not read and the transfer ends in Done.
func (p *Pipeline) Put(ctx context.Context, req *Request) (*Transfer, error) {
	t := &Transfer{Path: req.Path}
	log := dcontext.GetLogger(ctx)

	t.enter(Admitting)
	if err := p.Admission.Admit(ctx, req.Path, req.Header); err != nil {
		t.enter(Done)
		return t, err
	}

	t.enter(Staging)
	res, err := p.Storage.Put(ctx, req.Path, req.Options)
	t.Resource = res
	if err != nil {
		t.enter(Done)
		return t, err
	}

	doc, ok := res.(*reststorage.Document)
	if !ok || doc.Writer == nil {
		t.enter(Done)
		return t, nil
	}

	t.enter(Streaming)
	written, err := p.pump(ctx, doc.Writer, req)
	t.Written = written
	if err == nil && req.ContentLength >= 0 && written != req.ContentLength {
		err = TransportError{Path: req.Path, Written: written, Err: io.ErrUnexpectedEOF}
	}
	if err != nil {
		return t, t.fail(ctx, doc.Writer, err)
	}

	t.enter(Committing)
	if err := doc.Writer.Commit(ctx); err != nil {
		return t, t.fail(ctx, doc.Writer, err)
	}
	doc.Length = written

	uploadCounter.WithValues("committed").Inc()
	log.Debugf("committed %d bytes to %s", written, req.Path)
	t.enter(Done)
	return t, nil
}

// fail drives the error branch. The staged writer is cancelled exactly once,
// on a context detached from the request so a client disconnect cannot
// abort the cleanup.
func (t *Transfer) fail(ctx context.Context, w reststorage.StagedWriter, cause error) error {
	t.enter(Erroring)

	t.cancelOnce.Do(func() {
		t.cancelErr = w.Cancel(dcontext.DetachedContext(ctx))
	})

	log := dcontext.GetLogger(ctx)
	log.WithError(cause).Warnf("upload to %s failed after %d bytes, staged content discarded", t.Path, t.Written)
	if t.cancelErr != nil {
		log.WithError(t.cancelErr).Errorf("unable to remove staged content for %s", t.Path)
	}

	uploadCounter.WithValues("cancelled").Inc()
	t.enter(CleanedUp)
	return cause
}

// pump copies the body into w one chunk at a time. Each chunk is handed to
// a bounded buffer in front of w; when the buffer is full the write blocks
// until w has drained it, and only then is the next chunk read.
func (p *Pipeline) pump(ctx context.Context, w reststorage.StagedWriter, req *Request) (int64, error) {
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	bufferSize := p.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	dst := bufio.NewWriterSize(w, bufferSize)
	chunk := make([]byte, chunkSize)
	var read int64

	for {
		if err := ctx.Err(); err != nil {
			return w.Size(), TransportError{Path: req.Path, Written: read, Err: err}
		}

		n, rerr := req.Body.Read(chunk)
		if n > 0 {
			read += int64(n)
			if _, werr := dst.Write(chunk[:n]); werr != nil {
				return w.Size(), werr
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return w.Size(), TransportError{Path: req.Path, Written: read, Err: rerr}
		}
	}

	if err := dst.Flush(); err != nil {
		return w.Size(), err
	}
	return w.Size(), nil
}
