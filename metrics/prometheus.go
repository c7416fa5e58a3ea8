package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "reststorage"
)

var (
	// StorageNamespace is the prometheus namespace of backend operations
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// UploadNamespace is the prometheus namespace of the upload pipeline
	// and write admission
	UploadNamespace = metrics.NewNamespace(NamespacePrefix, "upload", nil)
)

func init() {
	metrics.Register(StorageNamespace)
	metrics.Register(UploadNamespace)
}
