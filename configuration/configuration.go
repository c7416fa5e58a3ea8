package configuration

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"
)

// Configuration is a versioned reststorage configuration, intended to be
// provided by a yaml file, and optionally modified by environment variables.
//
// Note that yaml field names should never include _ characters, since this is the separator used
// in environment variable names.
type Configuration struct {
	// Version is the version which defines the format of the rest of the configuration
	Version Version `yaml:"version"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log Log `yaml:"log"`

	// Storage is the configuration for the storage backend. Exactly one of
	// "filesystem" or "redis" must be given.
	Storage Storage `yaml:"storage"`

	// HTTP contains configuration parameters for the http interface.
	HTTP HTTP `yaml:"http,omitempty"`

	// Admission configures write admission under memory pressure.
	Admission Admission `yaml:"admission,omitempty"`

	// Cleanup configures the expired resource sweep.
	Cleanup Cleanup `yaml:"cleanup,omitempty"`

	// Collections configures collection handling.
	Collections Collections `yaml:"collections,omitempty"`

	// Health configures the periodic checks that take the service out of
	// rotation.
	Health Health `yaml:"health,omitempty"`
}

// Log configures the logging subsystem.
type Log struct {
	// AccessLog configures access logging.
	AccessLog struct {
		// Disabled disables access logging.
		Disabled bool `yaml:"disabled,omitempty"`
	} `yaml:"accesslog,omitempty"`

	// Level is the granularity at which operations are logged.
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default formatter with another. Options
	// include "text" and "json". The default is "text".
	Formatter string `yaml:"formatter,omitempty"`

	// Fields allows users to specify static string fields to include in
	// the logger context.
	Fields map[string]interface{} `yaml:"fields,omitempty"`
}

// HTTP configures the http listeners.
type HTTP struct {
	// Addr specifies the bind address for the service.
	Addr string `yaml:"addr,omitempty"`

	// Prefix is the path under which the tree is served, e.g. /storage/.
	Prefix string `yaml:"prefix,omitempty"`

	// DrainTimeout is the amount of time to wait for connections to drain
	// before shutting down when the process receives a stop signal.
	DrainTimeout time.Duration `yaml:"draintimeout,omitempty"`

	// Debug configures the http debug interface, if specified. This can
	// include services such as pprof, expvar and other data that should
	// not be exposed externally. Left disabled by default.
	Debug Debug `yaml:"debug,omitempty"`
}

// Debug defines the debug listener.
type Debug struct {
	// Addr specifies the bind address for the debug server.
	Addr string `yaml:"addr,omitempty"`
	// Prometheus configures the Prometheus telemetry endpoint.
	Prometheus struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"prometheus,omitempty"`
}

// Admission configures rejection of writes when the backend reports memory
// pressure above the importance level of the request.
type Admission struct {
	RejectStorageWriteOnLowMemory bool `yaml:"rejectstoragewriteonlowmemory,omitempty"`
}

// Cleanup configures the sweep of expired resources.
type Cleanup struct {
	// Interval runs a sweep periodically when positive.
	Interval time.Duration `yaml:"interval,omitempty"`

	// ResourcesAmount bounds the number of resources removed per sweep.
	ResourcesAmount int `yaml:"resourcesamount,omitempty"`
}

// Collections configures collection handling.
type Collections struct {
	// ConfirmDelete refuses to delete non-empty collections unless the
	// request asks for a recursive delete.
	ConfirmDelete bool `yaml:"confirmdelete,omitempty"`
}

// Health lists the health checks polled in the background. A failing check
// makes every request answer 503.
type Health struct {
	// FileCheckers fail while their file exists.
	FileCheckers []FileChecker `yaml:"file,omitempty"`
	// HTTPCheckers fail while a HEAD request does not get the expected status.
	HTTPCheckers []HTTPChecker `yaml:"http,omitempty"`
	// StorageDriver tunes the backend check, which is always registered.
	StorageDriver struct {
		Interval  time.Duration `yaml:"interval,omitempty"`
		Threshold int           `yaml:"threshold,omitempty"`
	} `yaml:"storagedriver,omitempty"`
}

// FileChecker is a check on the existence of a file.
type FileChecker struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	File     string        `yaml:"file,omitempty"`
	// Threshold is the number of consecutive failures before the check
	// reports unhealthy. Zero reports the first failure.
	Threshold int `yaml:"threshold,omitempty"`
}

// HTTPChecker is a HEAD request against a downstream URI.
type HTTPChecker struct {
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	StatusCode int           `yaml:"statuscode,omitempty"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	URI        string        `yaml:"uri,omitempty"`
	Threshold  int           `yaml:"threshold,omitempty"`
}

// v0_1Configuration is a Version 0.1 Configuration struct
// This is currently aliased to Configuration, as it is the current version
type v0_1Configuration Configuration

// CurrentVersion is the most recent Version that can be parsed
var CurrentVersion = MajorMinorVersion(0, 1)

// Defaults applied to a parsed configuration.
const (
	DefaultHTTPAddr               = ":8989"
	DefaultPrometheusPath         = "/metrics"
	DefaultCleanupResourcesAmount = 100000
)

// Loglevel is the level at which operations are logged
// This can be error, warn, info, or debug
type Loglevel string

// UnmarshalYAML implements the yaml.Umarshaler interface
// Unmarshals a string into a Loglevel, lowercasing the string and validating that it represents a
// valid loglevel
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var loglevelString string
	if err := unmarshal(&loglevelString); err != nil {
		return err
	}

	loglevelString = strings.ToLower(loglevelString)
	switch loglevelString {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s Must be one of [error, warn, info, debug]", loglevelString)
	}

	*loglevel = Loglevel(loglevelString)
	return nil
}

// Parameters defines a key-value parameters mapping
type Parameters map[string]interface{}

// Storage defines the configuration for the storage backend
type Storage map[string]Parameters

// Type returns the storage driver type, such as filesystem or redis
func (storage Storage) Type() string {
	// Return only key in this map
	for k := range storage {
		return k
	}
	return ""
}

// Parameters returns the Parameters map for a Storage configuration
func (storage Storage) Parameters() Parameters {
	return storage[storage.Type()]
}

// UnmarshalYAML implements the yaml.Unmarshaler interface
// Unmarshals a single item map into a Storage or a string into a Storage type with no parameters
func (storage *Storage) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var storageMap map[string]Parameters
	err := unmarshal(&storageMap)
	if err == nil {
		if len(storageMap) > 1 {
			types := make([]string, 0, len(storageMap))
			for k := range storageMap {
				types = append(types, k)
			}
			return fmt.Errorf("must provide exactly one storage type. Provided: %v", types)
		}
		*storage = storageMap
		return nil
	}

	var storageType string
	if err = unmarshal(&storageType); err == nil {
		*storage = Storage{storageType: Parameters{}}
		return nil
	}

	return err
}

// MarshalYAML implements the yaml.Marshaler interface
func (storage Storage) MarshalYAML() (interface{}, error) {
	if storage.Parameters() == nil {
		return storage.Type(), nil
	}
	return map[string]Parameters(storage), nil
}

// Parse parses an input configuration yaml document into a Configuration struct
//
// Environment variables may be used to override configuration parameters other than version,
// following the scheme below:
// Configuration.Abc may be replaced by the value of RESTSTORAGE_ABC,
// Configuration.Abc.Xyz may be replaced by the value of RESTSTORAGE_ABC_XYZ, and so forth
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("reststorage", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				if v0_1, ok := c.(*v0_1Configuration); ok {
					if v0_1.Storage.Type() == "" {
						return nil, fmt.Errorf("no storage configuration provided")
					}
					applyDefaults((*Configuration)(v0_1))
					return (*Configuration)(v0_1), nil
				}
				return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
			},
		},
	})

	config := new(Configuration)
	if err := p.Parse(in, config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(config *Configuration) {
	if config.Log.Level == "" {
		config.Log.Level = Loglevel("info")
	}
	if config.Log.Formatter == "" {
		config.Log.Formatter = "text"
	}
	if config.HTTP.Addr == "" {
		config.HTTP.Addr = DefaultHTTPAddr
	}
	if config.HTTP.Prefix == "" {
		config.HTTP.Prefix = "/"
	}
	if config.HTTP.Debug.Prometheus.Enabled && config.HTTP.Debug.Prometheus.Path == "" {
		config.HTTP.Debug.Prometheus.Path = DefaultPrometheusPath
	}
	if config.Cleanup.ResourcesAmount <= 0 {
		config.Cleanup.ResourcesAmount = DefaultCleanupResourcesAmount
	}
}
