package resource

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nuclio/logger"

	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/models"
	"github.com/illuscio-dev/spanrest-go/spanerrors"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// Handler adapts a Dispatcher to net/http. Routes must be served by a chi router;
// the URL suffix format is read from middleware.URLFormat when it is installed.
type Handler struct {
	logger     logger.Logger
	dispatcher *Dispatcher
}

func NewHandler(parentLogger logger.Logger, dispatcher *Dispatcher) *Handler {
	return &Handler{
		logger:     parentLogger.GetChild("handler"),
		dispatcher: dispatcher,
	}
}

// NewRequest translates an HTTP request into a dispatcher Request.
func NewRequest(request *http.Request) *Request {
	params := make(lookup.Params)
	if routeContext := chi.RouteContext(request.Context()); routeContext != nil {
		for index, key := range routeContext.URLParams.Keys {
			if index < len(routeContext.URLParams.Values) && key != "*" {
				params[key] = routeContext.URLParams.Values[index]
			}
		}
	}

	format, _ := request.Context().Value(middleware.URLFormatCtxKey).(string)

	return &Request{
		Method:      request.Method,
		ContentType: request.Header.Get("Content-Type"),
		Query:       lookup.Query(request.URL.Query()),
		Params:      params,
		Format:      format,
		Body:        request.Body,
	}
}

func (handler *Handler) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}

		// spanerrors raised with Panic are answered like returned client errors
		if spanErr, ok := recovered.(*spanerrors.SpanError); ok {
			handler.writeError(responseWriter, spanErr)
			return
		}
		panic(recovered)
	}()

	response, err := handler.dispatcher.Dispatch(request.Context(), NewRequest(request))
	if err != nil {
		handler.writeError(responseWriter, spanerrors.ServerError.New(
			"internal server error", nil, err,
		))
		return
	}

	handler.write(responseWriter, response)
}

func (handler *Handler) writeError(responseWriter http.ResponseWriter, spanErr *spanerrors.SpanError) {
	if spanErr.HttpCode() >= http.StatusInternalServerError {
		handler.logger.ErrorWith("Failed to handle request",
			"resource", handler.dispatcher.Resource().Name(),
			"id", spanErr.ID.String(),
			"err", spanErr.LogMessage())
	}

	response, err := spanErr.Response(handler.dispatcher.Engine())
	if err != nil {
		handler.logger.ErrorWith("Failed to build error response", "err", err.Error())
		response = spantypes.Text(http.StatusInternalServerError, spanErr.Message)
	}
	handler.write(responseWriter, response)
}

func (handler *Handler) write(responseWriter http.ResponseWriter, response *spantypes.Response) {
	if err := response.Write(responseWriter); err != nil {
		handler.logger.WarnWith("Failed to write response", "err", err.Error())
	}
}

// Routes returns a router serving the resource: the collection at "/", pages at
// "/page/{page}" when the resource paginates, and instances at "/{pk}" or "/{slug}".
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	resource := handler.dispatcher.Resource()

	router.Handle("/", handler)
	if resource.Paginated() {
		router.Handle("/page/{"+models.PageParam+"}", handler)
	}
	if !resource.Singleton() {
		router.Handle("/{"+resource.DetailParam()+"}", handler)
	}
	return router
}
