package configuration

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/check.v1"
	"gopkg.in/yaml.v2"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { check.TestingT(t) }

// configStruct is a canonical example configuration, which should map to configYamlV0_1
var configStruct = Configuration{
	Version: "0.1",
	Log: Log{
		Level:     "debug",
		Formatter: "json",
		Fields:    map[string]interface{}{"service": "reststorage"},
	},
	Storage: Storage{
		"redis": Parameters{
			"addr":               "localhost:6379",
			"db":                 2,
			"memoryusagerefresh": "30s",
		},
	},
	HTTP: HTTP{
		Addr:   ":8989",
		Prefix: "/storage/",
	},
	Admission: Admission{
		RejectStorageWriteOnLowMemory: true,
	},
	Cleanup: Cleanup{
		Interval:        time.Minute,
		ResourcesAmount: 500,
	},
	Collections: Collections{
		ConfirmDelete: true,
	},
	Health: Health{
		FileCheckers: []FileChecker{
			{Interval: 5 * time.Second, File: "/etc/reststorage/maintenance"},
		},
		HTTPCheckers: []HTTPChecker{
			{Interval: 10 * time.Second, URI: "http://upstream:8080/health", StatusCode: 204, Threshold: 3},
		},
	},
}

// configYamlV0_1 is a Version 0.1 yaml document representing configStruct
var configYamlV0_1 = `
version: 0.1
log:
  level: debug
  formatter: json
  fields:
    service: reststorage
storage:
  redis:
    addr: localhost:6379
    db: 2
    memoryusagerefresh: 30s
http:
  addr: :8989
  prefix: /storage/
admission:
  rejectstoragewriteonlowmemory: true
cleanup:
  interval: 1m
  resourcesamount: 500
collections:
  confirmdelete: true
health:
  file:
    - interval: 5s
      file: /etc/reststorage/maintenance
  http:
    - interval: 10s
      uri: http://upstream:8080/health
      statuscode: 204
      threshold: 3
`

// filesystemConfigYamlV0_1 is a Version 0.1 yaml document specifying the
// filesystem driver as a bare string, relying on every default.
var filesystemConfigYamlV0_1 = `
version: 0.1
storage: filesystem
`

type ConfigSuite struct {
	suite.Suite
	expectedConfig *Configuration
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (suite *ConfigSuite) SetupTest() {
	suite.expectedConfig = copyConfig(configStruct)
}

// TestMarshalRoundtrip validates that configStruct can be marshaled and
// unmarshaled without changing any parameters
func (suite *ConfigSuite) TestMarshalRoundtrip() {
	configBytes, err := yaml.Marshal(suite.expectedConfig)
	suite.Require().NoError(err)
	config, err := Parse(bytes.NewReader(configBytes))
	suite.T().Log(string(configBytes))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseSimple validates that configYamlV0_1 can be parsed into a struct
// matching configStruct
func (suite *ConfigSuite) TestParseSimple() {
	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseDefaults validates that a configuration naming only the storage
// type gets the documented defaults.
func (suite *ConfigSuite) TestParseDefaults() {
	config, err := Parse(bytes.NewReader([]byte(filesystemConfigYamlV0_1)))
	suite.Require().NoError(err)

	suite.Equal("filesystem", config.Storage.Type())
	suite.Equal(Parameters{}, config.Storage.Parameters())
	suite.Equal(Loglevel("info"), config.Log.Level)
	suite.Equal("text", config.Log.Formatter)
	suite.Equal(DefaultHTTPAddr, config.HTTP.Addr)
	suite.Equal("/", config.HTTP.Prefix)
	suite.Equal(DefaultCleanupResourcesAmount, config.Cleanup.ResourcesAmount)
	suite.False(config.Admission.RejectStorageWriteOnLowMemory)
	suite.False(config.Collections.ConfirmDelete)
}

// TestParseIncomplete validates that an incomplete yaml configuration cannot
// be parsed without providing environment variables to fill in the missing
// components.
func (suite *ConfigSuite) TestParseIncomplete() {
	incompleteConfigYaml := "version: 0.1"
	_, err := Parse(bytes.NewReader([]byte(incompleteConfigYaml)))
	suite.Require().Error(err)

	suite.T().Setenv("RESTSTORAGE_STORAGE", "filesystem")
	suite.T().Setenv("RESTSTORAGE_STORAGE_FILESYSTEM_ROOTDIRECTORY", "/tmp/testroot")

	config, err := Parse(bytes.NewReader([]byte(incompleteConfigYaml)))
	suite.Require().NoError(err)
	suite.Equal(Storage{"filesystem": Parameters{"rootdirectory": "/tmp/testroot"}}, config.Storage)
}

// TestParseWithDifferentEnvStorageParams validates that providing environment
// variables that change and add to the given storage parameters will change
// and add parameters to the parsed Configuration struct
func (suite *ConfigSuite) TestParseWithDifferentEnvStorageParams() {
	suite.expectedConfig.Storage["redis"]["addr"] = "redis:6380"
	suite.expectedConfig.Storage["redis"]["poolsize"] = 20

	suite.T().Setenv("RESTSTORAGE_STORAGE_REDIS_ADDR", "redis:6380")
	suite.T().Setenv("RESTSTORAGE_STORAGE_REDIS_POOLSIZE", "20")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseWithDifferentEnvStorageType validates that providing an
// environment variable that changes the storage type drops the yaml-defined
// parameters.
func (suite *ConfigSuite) TestParseWithDifferentEnvStorageType() {
	suite.expectedConfig.Storage = Storage{"filesystem": Parameters{"rootdirectory": "/srv"}}

	suite.T().Setenv("RESTSTORAGE_STORAGE", "filesystem")
	suite.T().Setenv("RESTSTORAGE_STORAGE_FILESYSTEM_ROOTDIRECTORY", "/srv")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseWithDifferentEnvLoglevel validates that providing an environment
// variable defining the log level will override the value provided in the
// yaml document
func (suite *ConfigSuite) TestParseWithDifferentEnvLoglevel() {
	suite.expectedConfig.Log.Level = "error"

	suite.T().Setenv("RESTSTORAGE_LOG_LEVEL", "error")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseInvalidLoglevel validates that the parser will fail to parse a
// configuration if the loglevel is malformed
func (suite *ConfigSuite) TestParseInvalidLoglevel() {
	invalidConfigYaml := "version: 0.1\nlog:\n  level: derp\nstorage: filesystem"
	_, err := Parse(bytes.NewReader([]byte(invalidConfigYaml)))
	suite.Require().Error(err)

	suite.T().Setenv("RESTSTORAGE_LOG_LEVEL", "derp")

	_, err = Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().Error(err)
}

// TestParseInvalidVersion validates that the parser will fail to parse a newer
// configuration version than the CurrentVersion
func (suite *ConfigSuite) TestParseInvalidVersion() {
	suite.expectedConfig.Version = MajorMinorVersion(CurrentVersion.Major(), CurrentVersion.Minor()+1)
	configBytes, err := yaml.Marshal(suite.expectedConfig)
	suite.Require().NoError(err)
	_, err = Parse(bytes.NewReader(configBytes))
	suite.Require().Error(err)
}

// TestParseEnvDurations validates duration fields given through the
// environment.
func (suite *ConfigSuite) TestParseEnvDurations() {
	suite.expectedConfig.Cleanup.Interval = 90 * time.Second
	suite.expectedConfig.HTTP.DrainTimeout = 5 * time.Second

	suite.T().Setenv("RESTSTORAGE_CLEANUP_INTERVAL", "90s")
	suite.T().Setenv("RESTSTORAGE_HTTP_DRAINTIMEOUT", "5s")

	config, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().NoError(err)
	suite.Require().Equal(suite.expectedConfig, config)
}

// TestParseEnvWrongTypeStruct validates that incorrectly formatted environment
// variables cause an error during parsing.
func (suite *ConfigSuite) TestParseEnvWrongTypeStruct() {
	suite.T().Setenv("RESTSTORAGE_CLEANUP_RESOURCESAMOUNT", "lots")

	_, err := Parse(bytes.NewReader([]byte(configYamlV0_1)))
	suite.Require().Error(err)
}

func (suite *ConfigSuite) TestVersionParts() {
	v := MajorMinorVersion(3, 14)
	suite.Equal(uint(3), v.Major())
	suite.Equal(uint(14), v.Minor())

	var bad Version
	suite.Error(yaml.Unmarshal([]byte("nodot"), &bad))
}

func copyConfig(config Configuration) *Configuration {
	configCopy := new(Configuration)

	configCopy.Version = MajorMinorVersion(config.Version.Major(), config.Version.Minor())
	configCopy.Log = config.Log
	configCopy.Log.Fields = make(map[string]interface{}, len(config.Log.Fields))
	for k, v := range config.Log.Fields {
		configCopy.Log.Fields[k] = v
	}

	configCopy.Storage = Storage{config.Storage.Type(): Parameters{}}
	for k, v := range config.Storage.Parameters() {
		configCopy.Storage[config.Storage.Type()][k] = v
	}

	configCopy.HTTP = config.HTTP
	configCopy.Admission = config.Admission
	configCopy.Cleanup = config.Cleanup
	configCopy.Collections = config.Collections
	configCopy.Health = config.Health
	configCopy.Health.FileCheckers = append([]FileChecker(nil), config.Health.FileCheckers...)
	configCopy.Health.HTTPCheckers = append([]HTTPChecker(nil), config.Health.HTTPCheckers...)

	return configCopy
}
