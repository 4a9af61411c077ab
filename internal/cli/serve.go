package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matzehuels/irgraph/pkg/buildinfo"
	"github.com/matzehuels/irgraph/pkg/codec"
	"github.com/matzehuels/irgraph/pkg/errors"
	irio "github.com/matzehuels/irgraph/pkg/io"
	"github.com/matzehuels/irgraph/pkg/observability"
	"github.com/matzehuels/irgraph/pkg/pipeline"
	"github.com/matzehuels/irgraph/pkg/render/nodelink"
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 32 << 20

	shutdownTimeout = 5 * time.Second
)

// Response headers set by the API.
const (
	headerCache   = "X-Irgraph-Cache"
	headerHash    = "X-Irgraph-Hash"
	headerSession = "X-Irgraph-Session"
	headerPolicy  = "X-Irgraph-Policy"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr    string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the encode/decode API over HTTP",
		Long: `Serve the encode/decode API over HTTP.

Endpoints:
  POST /encode              JSON graph in, encoded graph out
  POST /decode?policy=...   encoded graph in, JSON graph out
                            (also fold, no_detect, fall_back, max_iterations)
  POST /inspect             encoded graph in, header summary out
  POST /render?format=svg   JSON graph in, diagram out
  GET  /metrics             Prometheus metrics
  GET  /version             build information
  GET  /healthz             liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = c.Config.Serve.Addr
			}
			if err := errors.ValidateAddr(addr); err != nil {
				return err
			}
			return c.runServe(cmd.Context(), addr, noCache)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the artifact cache")
	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr string, noCache bool) error {
	logger := loggerFromContext(ctx)

	runner, err := c.newRunner(ctx, noCache)
	if err != nil {
		return err
	}
	defer runner.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	observability.SetCodecHooks(metrics)
	observability.SetLoopHooks(metrics)
	observability.SetCacheHooks(metrics)
	defer observability.Reset()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newAPI(runner, c.Config.Decode.options(), logger, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return ctx.Err()
}

// api serves the pipeline over HTTP.
type api struct {
	runner   *pipeline.Runner
	defaults pipeline.Options
	logger   *log.Logger
}

// newAPI builds the router. defaults supplies decode options the query
// string does not set.
func newAPI(runner *pipeline.Runner, defaults pipeline.Options, logger *log.Logger, gatherer prometheus.Gatherer) http.Handler {
	a := &api{runner: runner, defaults: defaults, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Post("/encode", a.handleEncode)
	r.Post("/decode", a.handleDecode)
	r.Post("/inspect", a.handleInspect)
	r.Post("/render", a.handleRender)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, buildinfo.Current())
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"id", middleware.GetReqID(r.Context()))
	})
}

func (a *api) handleEncode(w http.ResponseWriter, r *http.Request) {
	g, err := irio.ReadJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), a.runner.Registry)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.runner.Encode(r.Context(), g, pipeline.Options{Refresh: queryBool(r, "refresh")})
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set(headerHash, res.SourceHash)
	w.Header().Set(headerCache, cacheStatus(res.CacheHit))
	w.Header().Set("Content-Type", "application/json")
	w.Write(res.Data)
}

func (a *api) handleDecode(w http.ResponseWriter, r *http.Request) {
	opts, err := a.decodeOptions(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	eg, err := a.readEncoded(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.runner.Decode(r.Context(), eg, opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := irio.WriteJSON(res.Graph, &buf); err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set(headerSession, res.Session)
	w.Header().Set(headerPolicy, res.Policy)
	w.Header().Set(headerCache, cacheStatus(res.CacheHit))
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf.Bytes())
}

func (a *api) handleInspect(w http.ResponseWriter, r *http.Request) {
	eg, err := a.readEncoded(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(eg))
}

func (a *api) handleRender(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = pipeline.FormatSVG
	}
	if err := pipeline.ValidateFormat(format); err != nil {
		a.writeError(w, err)
		return
	}
	g, err := irio.ReadJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), a.runner.Registry)
	if err != nil {
		a.writeError(w, err)
		return
	}
	data, cached, err := a.runner.Render(r.Context(), g, format, nodelink.Options{
		Detailed:    queryBool(r, "detailed"),
		ControlOnly: queryBool(r, "control_only"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set(headerCache, cacheStatus(cached))
	w.Header().Set("Content-Type", contentTypes[format])
	w.Write(data)
}

var contentTypes = map[string]string{
	pipeline.FormatDOT: "text/vnd.graphviz",
	pipeline.FormatSVG: "image/svg+xml",
	pipeline.FormatPNG: "image/png",
}

// decodeOptions overlays the query string on the configured defaults.
func (a *api) decodeOptions(r *http.Request) (pipeline.Options, error) {
	opts := a.defaults
	q := r.URL.Query()
	if p := q.Get("policy"); p != "" {
		opts.Policy = p
	}
	if q.Has("fold") {
		opts.Fold = queryBool(r, "fold")
	}
	if q.Has("no_detect") {
		opts.NoDetect = queryBool(r, "no_detect")
	}
	opts.FallBack = queryBool(r, "fall_back")
	opts.Refresh = queryBool(r, "refresh")
	if s := q.Get("max_iterations"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return opts, errors.Wrap(errors.ErrCodeInvalidInput, err, "max_iterations %q", s)
		}
		opts.MaxIterations = n
	}
	return opts, opts.ValidateAndSetDefaults()
}

func (a *api) readEncoded(w http.ResponseWriter, r *http.Request) (*codec.EncodedGraph, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read request body")
	}
	return codec.Unmarshal(data, a.runner.Registry)
}

// apiError is the JSON body of an error response.
type apiError struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, apiError{Code: errors.GetCode(err), Message: errors.UserMessage(err)})
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidFormat, errors.ErrCodeInvalidPolicy, errors.ErrCodeInvalidPath:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound, errors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case errors.ErrCodeBailout, errors.ErrCodeUnsupported:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func cacheStatus(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
