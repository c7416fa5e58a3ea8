package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reststorage/reststorage/configuration"
	"github.com/reststorage/reststorage/internal/dcontext"
	_ "github.com/reststorage/reststorage/storage/driver/filesystem"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetFormatter(&logrus.TextFormatter{})
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetOutput(os.Stderr)

	for _, tc := range []struct {
		formatter string
		expected  []string
	}{
		{formatter: "json", expected: []string{`"msg":"hello"`, `"service":"reststorage"`}},
		{formatter: "logstash", expected: []string{`"message":"hello"`, `"@timestamp":`, `"@version":"1"`, `"service":"reststorage"`}},
		{formatter: "text", expected: []string{`msg=hello`, `service=reststorage`}},
	} {
		config := &configuration.Configuration{}
		config.Log.Level = "debug"
		config.Log.Formatter = tc.formatter
		config.Log.Fields = map[string]interface{}{"service": "reststorage"}

		ctx, err := configureLogging(context.Background(), config)
		require.NoError(t, err, tc.formatter)
		assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

		var buf bytes.Buffer
		logrus.SetOutput(&buf)
		dcontext.GetLogger(ctx).Info("hello")
		for _, fragment := range tc.expected {
			assert.Contains(t, buf.String(), fragment, tc.formatter)
		}
	}
}

func TestConfigureLoggingRejectsUnknownFormatter(t *testing.T) {
	config := &configuration.Configuration{}
	config.Log.Formatter = "xml"
	_, err := configureLogging(context.Background(), config)
	assert.Error(t, err)
}

func TestLogLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, logLevel("verbose"))
	assert.Equal(t, logrus.WarnLevel, logLevel("warn"))
}

func TestResolveConfiguration(t *testing.T) {
	_, err := resolveConfiguration(nil)
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte("version: 0.1\nstorage:\n  filesystem:\n    rootdirectory: /tmp/rs\n"), 0o644))

	config, err := resolveConfiguration([]string{p})
	require.NoError(t, err)
	assert.Equal(t, "filesystem", config.Storage.Type())
	assert.Equal(t, configuration.DefaultHTTPAddr, config.HTTP.Addr)

	t.Setenv("RESTSTORAGE_CONFIGURATION_PATH", p)
	config, err = resolveConfiguration(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rs", config.Storage.Parameters()["rootdirectory"])
}

func TestServerLifecycle(t *testing.T) {
	config := &configuration.Configuration{
		Storage: configuration.Storage{"filesystem": configuration.Parameters{"rootdirectory": t.TempDir()}},
	}
	config.Log.Level = "error"
	config.Log.AccessLog.Disabled = true
	config.HTTP.Addr = "127.0.0.1:0"
	config.HTTP.Prefix = "/"
	config.Cleanup.Interval = time.Hour
	config.Cleanup.ResourcesAmount = 10

	srv, err := NewServer(context.Background(), config)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	base := "http://" + srv.Addr().String()
	req, err := http.NewRequest(http.MethodPut, base+"/greeting", strings.NewReader("hello"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/greeting")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
