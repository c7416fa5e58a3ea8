package handlers

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/internal/requestutil"
	"github.com/reststorage/reststorage/storage/upload"
)

// Request knobs.
const (
	headerExpireAfter     = "x-expire-after"
	headerLock            = "x-lock"
	headerLockMode        = "x-lock-mode"
	headerLockExpireAfter = "x-lock-expire-after"
	headerStoreCompressed = "x-stored-compressed"

	queryOffset        = "offset"
	queryLimit         = "limit"
	queryMerge         = "merge"
	queryRecursive     = "recursive"
	queryStorageExpand = "storageExpand"
)

// defaultLockExpire applies when a lock is requested without
// x-lock-expire-after.
const defaultLockExpire = 300 * time.Second

// resourceDispatcher routes a tree path to the handler for its method.
func resourceDispatcher(ctx *Context, r *http.Request) http.Handler {
	resourceHandler := &resourceHandler{Context: ctx}

	return handlers.MethodHandler{
		http.MethodGet:    http.HandlerFunc(resourceHandler.GetResource),
		http.MethodHead:   http.HandlerFunc(resourceHandler.GetResource),
		http.MethodPut:    http.HandlerFunc(resourceHandler.PutResource),
		http.MethodDelete: http.HandlerFunc(resourceHandler.DeleteResource),
		http.MethodPost:   http.HandlerFunc(resourceHandler.PostResource),
	}
}

// resourceHandler serves documents and collections of the tree.
type resourceHandler struct {
	*Context
}

// GetResource serves a document body or a collection listing.
func (rh *resourceHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(rh).Debug("GetResource")

	offset, err := requestutil.QueryInt(r, queryOffset, 0)
	if err != nil {
		serveError(rh, w, reststorage.BadRequestError{Param: queryOffset, Value: r.URL.Query().Get(queryOffset)})
		return
	}
	limit, err := requestutil.QueryInt(r, queryLimit, -1)
	if err != nil {
		serveError(rh, w, reststorage.BadRequestError{Param: queryLimit, Value: r.URL.Query().Get(queryLimit)})
		return
	}

	res, err := rh.storage.Get(rh, rh.Path, reststorage.GetOptions{
		ETag:   r.Header.Get("If-None-Match"),
		Offset: offset,
		Count:  limit,
	})
	if err != nil {
		serveError(rh, w, err)
		return
	}

	switch res := res.(type) {
	case *reststorage.Document:
		defer res.Close()
		if res.ETag != "" {
			w.Header().Set("ETag", res.ETag)
		}
		if !res.Modified {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", contentType(rh.Path))
		w.Header().Set("Content-Length", strconv.FormatInt(res.Length, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, res.Reader); err != nil {
			dcontext.GetLogger(rh).WithError(err).Warn("unable to write document body")
		}
	case *reststorage.Collection:
		if err := serveJSON(w, listing(res)); err != nil {
			dcontext.GetLogger(rh).WithError(err).Warn("unable to write collection listing")
		}
	default:
		serveStatus(w, http.StatusNotFound)
	}
}

// listing encodes a collection as {"<name>": ["doc", "sub/"]}.
func listing(collection *reststorage.Collection) map[string][]string {
	names := make([]string, 0, len(collection.Items))
	for _, item := range collection.Items {
		switch item.(type) {
		case *reststorage.Collection:
			names = append(names, item.ResourceName()+"/")
		case *reststorage.Document:
			names = append(names, item.ResourceName())
		}
	}
	return map[string][]string{collection.Name: names}
}

func contentType(p string) string {
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// PutResource streams the request body into a document.
func (rh *resourceHandler) PutResource(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(rh).Debug("PutResource")

	opts, err := putOptions(r)
	if err != nil {
		serveError(rh, w, err)
		return
	}

	transfer, err := rh.uploads.Put(rh, &upload.Request{
		Path:          rh.Path,
		Header:        r.Header,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Options:       opts,
	})
	if err != nil {
		serveError(rh, w, err)
		return
	}

	switch res := transfer.Resource.(type) {
	case *reststorage.Collection:
		serveText(w, http.StatusMethodNotAllowed, "Method Not Allowed: a collection exists at this path")
	case *reststorage.Document:
		switch {
		case res.Rejected:
			serveStatus(w, http.StatusConflict)
		case !res.Modified:
			w.Header().Set("ETag", res.ETag)
			w.WriteHeader(http.StatusNotModified)
		default:
			if res.ETag != "" {
				w.Header().Set("ETag", res.ETag)
			}
			w.WriteHeader(http.StatusOK)
		}
	default:
		serveStatus(w, http.StatusNotFound)
	}
}

func putOptions(r *http.Request) (reststorage.PutOptions, error) {
	expire, err := requestutil.HeaderSeconds(r, headerExpireAfter)
	if err != nil {
		return reststorage.PutOptions{}, reststorage.BadRequestError{Param: headerExpireAfter + " header", Value: r.Header.Get(headerExpireAfter)}
	}
	lock, err := requestLock(r)
	if err != nil {
		return reststorage.PutOptions{}, err
	}

	return reststorage.PutOptions{
		ETag:            r.Header.Get("If-None-Match"),
		Merge:           requestutil.QueryBool(r, queryMerge),
		Expire:          expire,
		Lock:            lock,
		StoreCompressed: requestutil.HeaderBool(r, headerStoreCompressed),
	}, nil
}

// requestLock reads the lock headers. Without x-lock the request carries no
// lock.
func requestLock(r *http.Request) (reststorage.Lock, error) {
	owner := r.Header.Get(headerLock)
	if owner == "" {
		return reststorage.Lock{}, nil
	}

	mode, err := reststorage.ParseLockMode(r.Header.Get(headerLockMode))
	if err != nil {
		return reststorage.Lock{}, err
	}

	expire, err := requestutil.HeaderSeconds(r, headerLockExpireAfter)
	if err != nil || expire < 0 {
		return reststorage.Lock{}, reststorage.BadRequestError{Param: headerLockExpireAfter + " header", Value: r.Header.Get(headerLockExpireAfter)}
	}
	if expire == 0 {
		expire = defaultLockExpire
	}

	return reststorage.Lock{Owner: owner, Mode: mode, Expire: expire}, nil
}

// DeleteResource removes a document or a collection subtree.
func (rh *resourceHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLogger(rh).Debug("DeleteResource")

	lock, err := requestLock(r)
	if err != nil {
		serveError(rh, w, err)
		return
	}

	res, err := rh.storage.Delete(rh, rh.Path, reststorage.DeleteOptions{
		Lock:                    lock,
		ConfirmCollectionDelete: rh.Config.Collections.ConfirmDelete,
		DeleteRecursive:         requestutil.QueryBool(r, queryRecursive),
	})
	if err != nil {
		serveError(rh, w, err)
		return
	}

	status := res.ResourceStatus()
	switch {
	case !status.Exists:
		serveStatus(w, http.StatusNotFound)
	case status.Rejected:
		serveStatus(w, http.StatusConflict)
	case status.Error:
		serveText(w, http.StatusBadRequest, "Bad Request: "+status.ErrorMessage)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// PostResource only serves storageExpand requests.
func (rh *resourceHandler) PostResource(w http.ResponseWriter, r *http.Request) {
	if !requestutil.QueryBool(r, queryStorageExpand) {
		serveStatus(w, http.StatusMethodNotAllowed)
		return
	}
	rh.StorageExpand(w, r)
}
