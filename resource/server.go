package resource

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nuclio/logger"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/encoding"
	"github.com/illuscio-dev/spanrest-go/store"
)

// Route is one pattern served for a resource.
type Route struct {
	Pattern  string
	Resource string
	Methods  []string
}

// Server serves resources over HTTP.
type Server struct {
	Logger        logger.Logger
	ListenAddress string
	Router        chi.Router
	store         store.Store
	engine        *encoding.Engine
	resources     []*Resource
}

// NewServer creates a server whose resources share source and engine.
func NewServer(
	parentLogger logger.Logger,
	listenAddress string,
	source store.Store,
	engine *encoding.Engine,
) *Server {
	newServer := &Server{
		Logger:        parentLogger.GetChild("server"),
		ListenAddress: listenAddress,
		store:         source,
		engine:        engine,
	}

	newServer.Router = chi.NewRouter()
	newServer.Router.Use(middleware.Recoverer)
	newServer.Router.Use(newServer.requestResponseLogger())
	newServer.Router.Use(middleware.URLFormat)
	newServer.Router.Use(middleware.StripSlashes)

	return newServer
}

// Mount registers resources under their paths.
func (server *Server) Mount(resources ...*Resource) error {
	for _, resource := range resources {
		dispatcher, err := NewDispatcher(server.Logger, resource, server.store, server.engine)
		if err != nil {
			return xerrors.Errorf("error mounting %s: %w", resource.Name(), err)
		}

		handler := NewHandler(server.Logger, dispatcher)
		server.Router.Mount(resource.Path(), handler.Routes())
		server.resources = append(server.resources, resource)

		server.Logger.DebugWith("Registered resource",
			"name", resource.Name(),
			"path", resource.Path(),
			"methods", resource.Methods())
	}
	return nil
}

// Routes lists the mounted patterns, sorted.
func (server *Server) Routes() ([]Route, error) {
	byPrefix := make(map[string]*Resource, len(server.resources))
	for _, resource := range server.resources {
		byPrefix[resource.Path()] = resource
	}

	var routes []Route
	seen := make(map[string]bool)
	err := chi.Walk(server.Router, func(
		method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler,
	) error {
		pattern := strings.TrimSuffix(strings.Replace(route, "/*/", "/", -1), "/")
		if pattern == "" {
			pattern = "/"
		}

		var owner *Resource
		for prefix, resource := range byPrefix {
			matches := pattern == prefix || strings.HasPrefix(pattern, prefix+"/")
			if matches && (owner == nil || len(prefix) > len(owner.Path())) {
				owner = resource
			}
		}
		if owner == nil || seen[pattern] {
			return nil
		}

		seen[pattern] = true
		routes = append(routes, Route{
			Pattern:  pattern,
			Resource: owner.Name(),
			Methods:  owner.Methods(),
		})
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("error walking routes: %w", err)
	}

	sort.Slice(routes, func(left int, right int) bool {
		return routes[left].Pattern < routes[right].Pattern
	})
	return routes, nil
}

// Start serves until ctx is done, then shuts the server down.
func (server *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.ListenAddress,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	server.Logger.InfoWith("Listening", "listenAddress", server.ListenAddress)

	select {
	case err := <-serveErr:
		return xerrors.Errorf("error serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server.Logger.InfoWith("Shutting down", "listenAddress", server.ListenAddress)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("error shutting down: %w", err)
	}
	return nil
}

func (server *Server) requestResponseLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(responseWriter http.ResponseWriter, request *http.Request) {
			responseBodyBuffer := bytes.Buffer{}

			// wrap the writer to capture status and body
			responseWrapper := middleware.NewWrapResponseWriter(responseWriter, request.ProtoMajor)
			responseWrapper.Tee(&responseBodyBuffer)

			requestStartTime := time.Now()

			var requestBody []byte
			if request.Body != nil {
				requestBody, _ = io.ReadAll(request.Body)
				request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			}

			defer func() {
				server.Logger.DebugWith("Handled request",
					"requestMethod", request.Method,
					"requestPath", request.URL.String(),
					"requestHeaders", request.Header,
					"requestBody", string(requestBody),
					"responseStatus", responseWrapper.Status(),
					"responseBody", responseBodyBuffer.String(),
					"responseTime", time.Since(requestStartTime).String())
			}()

			next.ServeHTTP(responseWrapper, request)
		}

		return http.HandlerFunc(fn)
	}
}
