package upload

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	prometheus "github.com/reststorage/reststorage/metrics"
)

// ImportanceLevelHeader carries the caller's importance of a write as an
// integer percentage. A write is refused when the backend memory usage is
// at or above it.
const ImportanceLevelHeader = "x-importance-level"

// admissionCounter counts admission decisions by outcome.
var admissionCounter = prometheus.UploadNamespace.NewLabeledCounter("admission", "The number of admission decisions for writes", "outcome")

// MemoryProbe reports backend memory usage in percent. ok is false when the
// usage is unknown.
type MemoryProbe interface {
	CurrentMemoryUsage(ctx context.Context) (percent float64, ok bool)
}

// Admission decides whether a write may reach the backend.
type Admission struct {
	// Enabled turns on rejection of writes on low memory.
	Enabled bool

	Probe MemoryProbe
}

// Admit checks the importance level in header against the current memory
// usage. It returns a BadRequestError for a malformed header and
// ErrAdmissionRejected when the write must be refused. Neither case touches
// the backend beyond the memory probe, and a malformed header does not even
// probe.
func (a Admission) Admit(ctx context.Context, path string, header http.Header) error {
	log := dcontext.GetLogger(ctx)

	raw, present := importanceHeader(header)
	if !a.Enabled {
		if present {
			log.Warn("Received request with " + ImportanceLevelHeader + " header, but rejecting storage writes on low memory feature is disabled")
		}
		return nil
	}

	if !present {
		log.Infof("Received PUT request to %s without %s header. Going to handle this request with highest importance", path, ImportanceLevelHeader)
		admissionCounter.WithValues("admitted").Inc()
		return nil
	}

	level, err := ParseImportanceLevel(raw)
	if err != nil {
		log.Warnf("Rejecting PUT request to %s because %s header, has an invalid value: %s", path, ImportanceLevelHeader, raw)
		admissionCounter.WithValues("invalid").Inc()
		return err
	}

	var usage float64
	ok := false
	if a.Probe != nil {
		usage, ok = a.Probe.CurrentMemoryUsage(ctx)
	}
	if !ok {
		log.Warn("Rejecting storage writes on low memory feature disabled, because current memory usage not available")
		admissionCounter.WithValues("unknown").Inc()
		return nil
	}

	if usage >= float64(level) {
		log.Warnf("Rejecting PUT request to %s because current memory usage of %d%% is higher than provided importance level of %d%%",
			path, int(math.Round(usage)), level)
		admissionCounter.WithValues("rejected").Inc()
		return reststorage.ErrAdmissionRejected
	}

	admissionCounter.WithValues("admitted").Inc()
	return nil
}

// ParseImportanceLevel parses an importance level. Anything but an integer
// between 0 and 100 is a BadRequestError.
func ParseImportanceLevel(raw string) (int, error) {
	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || level < 0 || level > 100 {
		return 0, reststorage.BadRequestError{Param: ImportanceLevelHeader + " header", Value: raw}
	}
	return level, nil
}

func importanceHeader(header http.Header) (string, bool) {
	values := header.Values(ImportanceLevelHeader)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}
