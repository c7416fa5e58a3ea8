package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
)

// maxExpandRequestSize bounds the JSON body of a storageExpand request.
const maxExpandRequestSize = 1 << 20

type expandRequest struct {
	SubResources []string `json:"subResources"`
}

// StorageExpand answers with the named children of a collection merged into
// one JSON object: {"<collection>": {"<child>": <child document>, ...}}.
// Missing children are left out.
func (rh *resourceHandler) StorageExpand(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(rh).Debug("StorageExpand")

	var req expandRequest
	body := http.MaxBytesReader(w, r.Body, maxExpandRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		serveError(rh, w, reststorage.BadRequestError{Param: "storageExpand body", Value: err.Error()})
		return
	}
	if len(req.SubResources) == 0 {
		serveError(rh, w, reststorage.BadRequestError{Param: "storageExpand body", Value: "no subResources given"})
		return
	}

	res, err := rh.storage.StorageExpand(rh, rh.Path, r.Header.Get("If-None-Match"), req.SubResources)
	if err != nil {
		serveError(rh, w, err)
		return
	}

	collection, ok := res.(*reststorage.Collection)
	if !ok {
		serveStatus(w, http.StatusNotFound)
		return
	}

	children := make(map[string]json.RawMessage, len(collection.Items))
	for _, item := range collection.Items {
		switch item := item.(type) {
		case *reststorage.Document:
			content, err := readDocument(item)
			if err != nil {
				serveError(rh, w, err)
				return
			}
			if !json.Valid(content) {
				serveText(w, http.StatusInternalServerError, fmt.Sprintf("Internal Server Error: resource %s is not valid JSON", item.Name))
				return
			}
			children[item.Name] = content
		case *reststorage.Collection:
			serveText(w, http.StatusBadRequest, "Bad Request: "+item.ErrorMessage)
			return
		}
	}

	if err := serveJSON(w, map[string]map[string]json.RawMessage{collection.Name: children}); err != nil {
		dcontext.GetLogger(rh).WithError(err).Warn("unable to write expanded collection")
	}
}

func readDocument(doc *reststorage.Document) ([]byte, error) {
	if doc.Reader == nil {
		return nil, nil
	}
	defer doc.Close()
	return io.ReadAll(doc.Reader)
}
