package redis

import (
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/put.lua
	putSource string
	//go:embed lua/get.lua
	getSource string
	//go:embed lua/delete.lua
	deleteSource string
	//go:embed lua/cleanup.lua
	cleanupSource string
	//go:embed lua/storageExpand.lua
	storageExpandSource string
)

var (
	putScript           = redis.NewScript(putSource)
	getScript           = redis.NewScript(getSource)
	deleteScript        = redis.NewScript(deleteSource)
	cleanupScript       = redis.NewScript(cleanupSource)
	storageExpandScript = redis.NewScript(storageExpandSource)
)

// Statuses returned by the scripts.
const (
	statusOK                 = "ok"
	statusNotFound           = "notFound"
	statusNotModified        = "notModified"
	statusRejected           = "rejected"
	statusSilent             = "silent"
	statusExistingCollection = "existingCollection"
	statusNotEmpty           = "notEmpty"
	statusDeleted            = "deleted"
	statusDocument           = "document"
	statusCollection         = "collection"
)

// scriptReply converts a script reply into strings. Every script answers
// with a flat array whose first element is the status.
func scriptReply(reply []interface{}) ([]string, error) {
	if len(reply) == 0 {
		return nil, fmt.Errorf("empty script reply")
	}
	out := make([]string, len(reply))
	for i, v := range reply {
		switch v := v.(type) {
		case string:
			out[i] = v
		case []byte:
			out[i] = string(v)
		case int64:
			out[i] = fmt.Sprint(v)
		case nil:
		default:
			return nil, fmt.Errorf("unexpected script reply element %T", v)
		}
	}
	return out, nil
}
