package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/reststorage/reststorage"
	"github.com/reststorage/reststorage/configuration"
	"github.com/reststorage/reststorage/health"
	"github.com/reststorage/reststorage/health/checks"
	"github.com/reststorage/reststorage/internal/dcontext"
	"github.com/reststorage/reststorage/storage/driver/factory"
	"github.com/reststorage/reststorage/storage/upload"
)

// Route names.
const (
	RouteNameCleanup  = "cleanup"
	RouteNameResource = "resource"
)

// Health check defaults.
const (
	defaultCheckInterval    = 10 * time.Second
	defaultStorageThreshold = 3
	defaultHTTPCheckTimeout = time.Second
)

// App is the global application object. Shared resources can be placed on
// this object that will be accessible from all requests.
type App struct {
	context.Context

	Config *configuration.Configuration

	router  *mux.Router         // main application router, configured with dispatchers
	storage reststorage.Storage // storage is the backend instance shared by all requests
	uploads *upload.Pipeline    // uploads streams PUT bodies into the backend
	prefix  string
}

// NewApp takes a configuration and returns a configured app, ready to serve
// requests. The storage backend is constructed from the configuration.
func NewApp(ctx context.Context, config *configuration.Configuration) (*App, error) {
	storageType := config.Storage.Type()
	storage, err := factory.Create(ctx, storageType, config.Storage.Parameters())
	if err != nil {
		return nil, fmt.Errorf("unable to configure %s storage: %w", storageType, err)
	}
	dcontext.GetLogger(ctx).Infof("using %q as the storage backend", storageType)

	return NewAppWithStorage(ctx, config, storage), nil
}

// NewAppWithStorage returns an app serving an existing backend.
func NewAppWithStorage(ctx context.Context, config *configuration.Configuration, storage reststorage.Storage) *App {
	app := &App{
		Context: ctx,
		Config:  config,
		storage: storage,
		prefix:  strings.TrimRight(config.HTTP.Prefix, "/"),
		uploads: &upload.Pipeline{
			Storage: storage,
			Admission: upload.Admission{
				Enabled: config.Admission.RejectStorageWriteOnLowMemory,
				Probe:   storage,
			},
		},
	}

	app.router = mux.NewRouter()
	base := app.router
	if app.prefix != "" {
		base = app.router.PathPrefix(app.prefix).Subrouter()
	}

	// Register the handler dispatchers.
	base.Path("/_cleanup").Methods(http.MethodPost).Name(RouteNameCleanup).
		Handler(app.dispatcher(cleanupDispatcher))
	base.PathPrefix("/").Name(RouteNameResource).
		Handler(app.dispatcher(resourceDispatcher))

	return app
}

// Storage returns the backend served by the app.
func (app *App) Storage() reststorage.Storage {
	return app.storage
}

// RegisterHealthChecks starts the backend check and the file and HTTP
// checks named in the configuration, registering them with the given
// registry, or with the default registry when none is given.
func (app *App) RegisterHealthChecks(healthRegistries ...*health.Registry) {
	if len(healthRegistries) > 1 {
		panic("RegisterHealthChecks called with more than one registry")
	}
	healthRegistry := health.DefaultRegistry
	if len(healthRegistries) == 1 {
		healthRegistry = healthRegistries[0]
	}
	logger := dcontext.GetLogger(app)

	storageConfig := app.Config.Health.StorageDriver
	interval := orDefault(storageConfig.Interval, defaultCheckInterval)
	threshold := storageConfig.Threshold
	if threshold == 0 {
		threshold = defaultStorageThreshold
	}
	updater := health.NewThresholdStatusUpdater(threshold)
	healthRegistry.Register("storage_"+app.Config.Storage.Type(), updater)
	go health.Poll(app, updater, checks.StorageChecker(app.storage, interval), interval)

	for _, fileChecker := range app.Config.Health.FileCheckers {
		interval := orDefault(fileChecker.Interval, defaultCheckInterval)
		logger.Infof("configuring file health check path=%s, interval=%s", fileChecker.File, interval)
		updater := health.NewThresholdStatusUpdater(fileChecker.Threshold)
		healthRegistry.Register(fileChecker.File, updater)
		go health.Poll(app, updater, checks.FileChecker(fileChecker.File), interval)
	}

	for _, httpChecker := range app.Config.Health.HTTPCheckers {
		interval := orDefault(httpChecker.Interval, defaultCheckInterval)
		statusCode := httpChecker.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		checker := checks.HTTPChecker(httpChecker.URI, statusCode, orDefault(httpChecker.Timeout, defaultHTTPCheckTimeout))

		logger.Infof("configuring HTTP health check uri=%s, interval=%s, threshold=%d", httpChecker.URI, interval, httpChecker.Threshold)
		updater := health.NewThresholdStatusUpdater(httpChecker.Threshold)
		healthRegistry.Register(httpChecker.URI, updater)
		go health.Poll(app, updater, checker, interval)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() // ensure that request body is always closed.

	app.router.ServeHTTP(w, r)
}

// dispatchFunc takes a context and request and returns a constructed handler
// for the route. The dispatcher will use this to dynamically create request
// specific handlers for each endpoint without creating a new router for each
// request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// singleStatusResponseWriter only allows the first status to be written to be
// the valid request status.
type singleStatusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (ssrw *singleStatusResponseWriter) WriteHeader(status int) {
	if ssrw.status != 0 {
		return
	}
	ssrw.status = status
	ssrw.ResponseWriter.WriteHeader(status)
}

func (ssrw *singleStatusResponseWriter) Write(p []byte) (int, error) {
	if ssrw.status == 0 {
		ssrw.status = http.StatusOK
	}
	return ssrw.ResponseWriter.Write(p)
}

func (ssrw *singleStatusResponseWriter) Flush() {
	if flusher, ok := ssrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// dispatcher returns a handler that constructs a request specific context and
// handler, using the dispatch factory function.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		context := app.context(r)
		ssrw := &singleStatusResponseWriter{ResponseWriter: w}

		defer func() {
			dcontext.GetLoggerWithFields(context, map[any]any{
				"http.response.status":   ssrw.status,
				"http.response.duration": dcontext.Since(context, dcontext.RequestStartedAtKey),
			}).Debug("response completed")
		}()

		dispatch(context, r).ServeHTTP(ssrw, r)
	})
}

// context constructs the context object for the application. This only be
// called once per request.
func (app *App) context(r *http.Request) *Context {
	ctx := dcontext.WithRequest(r.Context(), r)
	ctx = dcontext.WithLogger(ctx, dcontext.GetLoggerWithField(ctx, "vars.path", app.resourcePath(r)))

	return &Context{
		App:     app,
		Context: ctx,
		Path:    app.resourcePath(r),
	}
}

// resourcePath strips the configured prefix from the request path.
func (app *App) resourcePath(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, app.prefix)
	if p == "" {
		return reststorage.RootPath
	}
	return p
}
