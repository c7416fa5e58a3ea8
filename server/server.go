// Package server wires configuration, logging, the storage backend and the
// HTTP application into a running service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logstash "github.com/bshuster-repo/logrus-logstash-hook"
	"github.com/docker/go-metrics"
	gorhandlers "github.com/gorilla/handlers"
	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/configuration"
	"github.com/reststorage/reststorage/handlers"
	"github.com/reststorage/reststorage/health"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// ServeCmd is a cobra command for running the service.
var ServeCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "`serve` stores documents and collections over HTTP",
	Long:  "`serve` stores documents and collections over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		// setup context
		ctx := dcontext.WithVersion(dcontext.Background(), version.Version())

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		srv, err := NewServer(ctx, config)
		if err != nil {
			logrus.Fatalln(err)
		}

		if err = srv.ListenAndServe(); err != nil {
			logrus.Fatalln(err)
		}
	},
}

// A Server represents a complete instance of the service.
type Server struct {
	config *configuration.Configuration
	app    *handlers.App
	server *http.Server
	ln     net.Listener
	quit   chan os.Signal
}

// NewServer creates a new server from a context and configuration struct.
func NewServer(ctx context.Context, config *configuration.Configuration) (*Server, error) {
	var err error
	ctx, err = configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %v", err)
	}

	configureDebugServer(ctx, config)

	app, err := handlers.NewApp(ctx, config)
	if err != nil {
		return nil, err
	}
	// TODO: The global scope of the health checks means NewServer can only
	// be called once per process.
	app.RegisterHealthChecks()

	var handler http.Handler = app
	handler = health.Handler(handler)
	handler = gorhandlers.RecoveryHandler(
		gorhandlers.RecoveryLogger(logrus.StandardLogger()),
		gorhandlers.PrintRecoveryStack(true),
	)(handler)
	if !config.Log.AccessLog.Disabled {
		handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)
	}

	ln, err := net.Listen("tcp", config.HTTP.Addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		app:    app,
		config: config,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
		},
		ln:   ln,
		quit: make(chan os.Signal, 1),
	}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// ListenAndServe runs the HTTP server until it receives SIGINT or SIGTERM,
// then drains in-flight requests for at most HTTP.DrainTimeout.
func (s *Server) ListenAndServe() error {
	config := s.config
	ctx, cancel := context.WithCancel(s.app)
	defer cancel()

	if config.Cleanup.Interval > 0 {
		go runCleanup(ctx, s.app.Storage(), config.Cleanup.Interval, config.Cleanup.ResourcesAmount)
	}

	dcontext.GetLogger(s.app).Infof("listening on %v", s.ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(s.ln)
	}()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-s.quit:
		logger := dcontext.GetLogger(s.app)
		logger.Info("stopping server gracefully. Draining connections for ", config.HTTP.DrainTimeout)

		drainCtx := context.Background()
		if config.HTTP.DrainTimeout > 0 {
			var drainCancel context.CancelFunc
			drainCtx, drainCancel = context.WithTimeout(drainCtx, config.HTTP.DrainTimeout)
			defer drainCancel()
		}
		err := s.Shutdown(drainCtx)
		logger.Info("graceful shutdown complete")
		return err
	}
}

// Shutdown stops accepting requests, waits for in-flight requests and
// releases the storage backend.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if closer, ok := s.app.Storage().(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// runCleanup sweeps expired resources every interval until ctx is done.
func runCleanup(ctx context.Context, storage reststorage.Storage, interval time.Duration, amount int) {
	logger := dcontext.GetLogger(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := storage.Cleanup(ctx, amount)
			if err != nil {
				logger.WithError(err).Warn("periodic cleanup failed")
				continue
			}
			if result.CleanedResources > 0 || result.ExpiredResources > 0 {
				logger.Infof("periodic cleanup removed %d expired resources, %d left", result.CleanedResources, result.ExpiredResources)
			}
		}
	}
}

// configureDebugServer starts the debug listener serving the health status
// and, when enabled, the prometheus metrics.
func configureDebugServer(ctx context.Context, config *configuration.Configuration) {
	if config.HTTP.Debug.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/health", health.StatusHandler)
	if config.HTTP.Debug.Prometheus.Enabled {
		path := config.HTTP.Debug.Prometheus.Path
		if path == "" {
			path = configuration.DefaultPrometheusPath
		}
		mux.Handle(path, metrics.Handler())
		dcontext.GetLogger(ctx).Infof("providing prometheus metrics on %s", path)
	}

	go func(addr string) {
		dcontext.GetLogger(ctx).Infof("debug server listening %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			dcontext.GetLogger(ctx).Fatalf("error listening on debug interface: %v", err)
		}
	}(config.HTTP.Debug.Addr)
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = "text" // default formatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   time.RFC3339Nano,
			DisableHTMLEscape: true,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "logstash":
		logrus.SetFormatter(&logstash.LogstashFormatter{
			Formatter: &logrus.JSONFormatter{
				TimestampFormat: time.RFC3339Nano,
				FieldMap: logrus.FieldMap{
					logrus.FieldKeyTime: "@timestamp",
					logrus.FieldKeyMsg:  "message",
				},
			},
			Fields: logrus.Fields{"@version": "1", "type": "log"},
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	logrus.Debugf("using %q logging formatter", formatter)

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		var fields []interface{}
		for k := range config.Log.Fields {
			fields = append(fields, k)
		}

		ctx = dcontext.WithValues(ctx, config.Log.Fields)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	}

	dcontext.SetDefaultLogger(dcontext.GetLogger(ctx))
	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}

	return l
}

func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("RESTSTORAGE_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("RESTSTORAGE_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return nil, fmt.Errorf("configuration path unspecified")
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}

	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", configurationPath, err)
	}

	return config, nil
}
