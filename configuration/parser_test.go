package configuration

import (
	"reflect"

	"gopkg.in/check.v1"
)

type localConfiguration struct {
	Version Version           `yaml:"version"`
	Log     *localLog         `yaml:"log"`
	Redis   map[string]string `yaml:"redis,omitempty"`
}

type localLog struct {
	Formatter string `yaml:"formatter,omitempty"`
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
redis:
  addr: "localhost:6379"`

type ParserSuite struct{}

var _ = check.Suite(new(ParserSuite))

func newLocalParser(environ ...string) *Parser {
	return newParser("reststorage", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(localConfiguration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	}, environ)
}

func (suite *ParserSuite) TestParserOverwriteInitializedPointer(c *check.C) {
	config := localConfiguration{}

	p := newLocalParser("RESTSTORAGE_LOG_FORMATTER=json")
	err := p.Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, localConfiguration{
		Version: "0.1",
		Log:     &localLog{Formatter: "json"},
		Redis:   map[string]string{"addr": "localhost:6379"},
	})
}

func (suite *ParserSuite) TestParserOverwriteUninitializedPointer(c *check.C) {
	config := localConfiguration{}

	p := newLocalParser("RESTSTORAGE_LOG_FORMATTER=json")
	err := p.Parse([]byte(`version: "0.1"`), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config.Log, check.NotNil)
	c.Assert(config.Log.Formatter, check.Equals, "json")
}

func (suite *ParserSuite) TestParserMapEntries(c *check.C) {
	config := localConfiguration{}

	p := newLocalParser(
		"RESTSTORAGE_REDIS_ADDR=redis:6380",
		"RESTSTORAGE_REDIS_PASSWORD=secret",
	)
	err := p.Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config.Redis, check.DeepEquals, map[string]string{
		"addr":     "redis:6380",
		"password": "secret",
	})
}

func (suite *ParserSuite) TestParserUnsupportedVersion(c *check.C) {
	config := localConfiguration{}

	err := newLocalParser().Parse([]byte(`version: "9.9"`), &config)
	c.Assert(err, check.ErrorMatches, `unsupported version: "9.9"`)
}

func (suite *ParserSuite) TestParserIgnoresUnrelatedEnvironment(c *check.C) {
	config := localConfiguration{}

	p := newLocalParser("OTHER_LOG_FORMATTER=json", "MALFORMED")
	err := p.Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config.Log.Formatter, check.Equals, "text")
}
