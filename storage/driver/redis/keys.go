package redis

import (
	"strings"

	"github.com/reststorage/reststorage"
)

// keyLayout names the redis keys of the tree. Path segments are joined with
// ':' which is why it is not allowed inside a segment.
//
//	<resources>:<a>:<b>    hash of a document (resource, etag, compressed)
//	<collections>:<a>      sorted set of the children of /a, scored by expiry
//	<collections>          sorted set of the children of the root
//	<expirable>            sorted set of expiring document keys
//	<locks>:<a>:<b>        hash of a lock (owner, mode, expire)
type keyLayout struct {
	resources   string
	collections string
	expirable   string
	locks       string
}

// pathKey joins the segments of a canonical path; the root is "".
func pathKey(canonical string) string {
	return strings.Join(reststorage.Segments(canonical), ":")
}

func (k keyLayout) resource(canonical string) string {
	return k.resources + ":" + pathKey(canonical)
}

func (k keyLayout) collection(canonical string) string {
	if reststorage.IsRoot(canonical) {
		return k.collections
	}
	return k.collections + ":" + pathKey(canonical)
}

func (k keyLayout) lock(canonical string) string {
	return k.locks + ":" + pathKey(canonical)
}
