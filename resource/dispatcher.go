package resource

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/nuclio/logger"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/encoding"
	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/models"
	"github.com/illuscio-dev/spanrest-go/serialize"
	"github.com/illuscio-dev/spanrest-go/spanerrors"
	"github.com/illuscio-dev/spanrest-go/spantypes"
	"github.com/illuscio-dev/spanrest-go/store"
)

// Request is the transport independent form of an incoming request.
type Request struct {
	Method      string
	ContentType string
	Query       lookup.Query
	// Parameters bound from the URL path.
	Params lookup.Params
	// Format requested by the URL suffix, empty for the resource default.
	Format string
	// Body may be nil for requests without one.
	Body io.Reader
}

// Dispatcher executes requests against one resource.
type Dispatcher struct {
	logger     logger.Logger
	resource   *Resource
	store      store.Store
	engine     *encoding.Engine
	serializer *serialize.Serializer
}

// NewDispatcher binds resource to its collaborators. The default format of the
// resource must be one the engine encodes.
func NewDispatcher(
	parentLogger logger.Logger,
	resource *Resource,
	source store.Store,
	engine *encoding.Engine,
) (*Dispatcher, error) {
	if !engine.HandlesFormat(resource.descriptor.DefaultFormat) {
		return nil, xerrors.Errorf(
			"resource %s: default format %q: %w",
			resource.Name(), resource.descriptor.DefaultFormat, encoding.ErrNoEncoder,
		)
	}

	dispatcherLogger := parentLogger.GetChild(resource.Name())
	return &Dispatcher{
		logger:     dispatcherLogger,
		resource:   resource,
		store:      source,
		engine:     engine,
		serializer: serialize.NewSerializer(dispatcherLogger, source),
	}, nil
}

func (dispatcher *Dispatcher) Resource() *Resource {
	return dispatcher.resource
}

// Engine is the content engine requests are decoded and encoded with.
func (dispatcher *Dispatcher) Engine() *encoding.Engine {
	return dispatcher.engine
}

// result is what an action hands to the rendering stage.
type result struct {
	status int
	value  interface{}
	header http.Header
}

/*
Dispatch runs a request through the resource:

receive -> decode body -> resolve target -> execute -> serialize -> encode -> respond

Client errors are answered with a response built from a spanerrors.SpanError. A
returned error is a fault: a misconfigured resource, a store failure or a format no
encoder produces.
*/
func (dispatcher *Dispatcher) Dispatch(
	ctx context.Context, request *Request,
) (*spantypes.Response, error) {
	method := strings.ToUpper(request.Method)
	format := dispatcher.format(request)

	dispatcher.logger.DebugWith("Dispatching request",
		"method", method,
		"params", request.Params,
		"format", format)

	if !dispatcher.resource.Allows(method) {
		return dispatcher.clientError(spanerrors.InvalidMethodError.New(
			"method "+method+" is not allowed",
			map[string]interface{}{"allowed": dispatcher.resource.Methods()},
			nil,
		))
	}

	var payload map[string]interface{}
	if method == http.MethodPost || method == http.MethodPut {
		decoded, spanErr, err := dispatcher.decode(request)
		if err != nil {
			return nil, err
		}
		if spanErr != nil {
			return dispatcher.clientError(spanErr)
		}
		payload = decoded
	}

	var outcome *result
	var err error
	switch method {
	case http.MethodGet:
		outcome, err = dispatcher.read(ctx, request)
	case http.MethodPut:
		outcome, err = dispatcher.update(ctx, request, payload)
	case http.MethodPost:
		outcome, err = dispatcher.create(ctx, payload)
	case http.MethodDelete:
		outcome, err = dispatcher.delete(ctx, request)
	}

	if err != nil {
		var spanErr *spanerrors.SpanError
		if xerrors.As(err, &spanErr) && !spanErr.IsType(spanerrors.MisconfiguredResource) {
			return dispatcher.clientError(spanErr)
		}
		return nil, err
	}

	return dispatcher.render(ctx, request, format, outcome)
}

func (dispatcher *Dispatcher) format(request *Request) string {
	format := request.Format
	if strings.TrimLeft(format, ".") == "" {
		format = dispatcher.resource.descriptor.DefaultFormat
	}
	return dispatcher.engine.NormalizeFormat(format)
}

func (dispatcher *Dispatcher) clientError(spanErr *spanerrors.SpanError) (*spantypes.Response, error) {
	dispatcher.logger.DebugWith("Answering with client error",
		"name", spanErr.Name(),
		"message", spanErr.Message,
		"id", spanErr.ID.String())

	response, err := spanErr.Response(dispatcher.engine)
	if err != nil {
		return nil, xerrors.Errorf("error building %s response: %w", spanErr.Name(), err)
	}
	return response, nil
}

// decode reads the request body into a mapping. Empty bodies decode to an empty
// mapping.
func (dispatcher *Dispatcher) decode(
	request *Request,
) (map[string]interface{}, *spanerrors.SpanError, error) {
	if request.Body == nil {
		return map[string]interface{}{}, nil, nil
	}

	body, err := io.ReadAll(request.Body)
	if err != nil {
		return nil, nil, xerrors.Errorf("error reading request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]interface{}{}, nil, nil
	}

	decoded, err := dispatcher.engine.Decode(request.ContentType, bytes.NewReader(body))
	switch {
	case xerrors.Is(err, encoding.ErrUnsupportedMediaType):
		return nil, spanerrors.UnsupportedMediaType.New(err.Error(), nil, err), nil
	case xerrors.Is(err, encoding.ErrMalformedBody):
		return nil, spanerrors.MalformedBody.New(
			"bad request: unparsable body", map[string]interface{}{"detail": err.Error()}, err,
		), nil
	case err != nil:
		return nil, nil, err
	}

	switch typed := decoded.(type) {
	case map[string]interface{}:
		return typed, nil, nil
	case *encoding.XMLNode:
		return typed.Map(), nil, nil
	}

	return nil, spanerrors.RequestValidationError.New(
		"request body must be a mapping of field names to values", nil, nil,
	), nil
}

// querySet applies the base criteria and the lookups of the resource.
func (dispatcher *Dispatcher) querySet(source store.Store, request *Request) store.QuerySet {
	descriptor := dispatcher.resource.descriptor

	criteria := store.Merge(
		descriptor.Criteria,
		lookup.Assemble(request.Query, descriptor.QueryLookups...),
		lookup.Assemble(request.Params, descriptor.PathLookups...),
	)
	return source.QuerySet(descriptor.Model).Filter(criteria)
}

// single resolves the instance a request addresses. It returns store.ErrNotFound when
// nothing matches and a MisconfiguredResource error when several instances do.
func (dispatcher *Dispatcher) single(
	ctx context.Context, source store.Store, request *Request,
) (store.Instance, error) {
	descriptor := dispatcher.resource.descriptor
	querySet := dispatcher.querySet(source, request)

	if !descriptor.Singleton {
		if pk := request.Params[PKParam]; pk != "" {
			querySet = querySet.Filter(store.Criteria{"pk": pk})
		} else if slug := request.Params[SlugParam]; slug != "" {
			querySet = querySet.Filter(store.Criteria{descriptor.SlugField: slug})
		} else {
			return nil, spanerrors.RequestValidationError.New(
				"resource "+descriptor.Name+" needs a pk or a slug to address an instance",
				nil, nil,
			)
		}
	}

	instance, err := querySet.Get(ctx)
	if xerrors.Is(err, store.ErrMultipleFound) {
		return nil, spanerrors.MisconfiguredResource.New(
			"resource "+descriptor.Name+" must resolve to a single instance",
			nil, err,
		)
	}
	return instance, err
}

func (dispatcher *Dispatcher) read(ctx context.Context, request *Request) (*result, error) {
	if dispatcher.resource.single(request.Params) {
		instance, err := dispatcher.single(ctx, dispatcher.store, request)
		if xerrors.Is(err, store.ErrNotFound) {
			return nil, spanerrors.NotFound.New(err.Error(), nil, err)
		}
		if err != nil {
			return nil, err
		}
		return &result{status: http.StatusOK, value: instance}, nil
	}

	descriptor := dispatcher.resource.descriptor
	querySet := dispatcher.querySet(dispatcher.store, request)

	if !descriptor.AllowEmpty {
		count, err := querySet.Count(ctx)
		if err != nil {
			return nil, xerrors.Errorf("error counting %s: %w", descriptor.Name, err)
		}
		if count == 0 {
			return nil, spanerrors.NotFound.New(
				"empty list and resource "+descriptor.Name+" does not allow empty lists",
				nil, nil,
			)
		}
	}

	pageRequest, err := models.NewPageRequest(request.Params, request.Query, descriptor.PaginateBy)
	if err != nil {
		return nil, spanerrors.NotFound.New(err.Error(), nil, err)
	}
	if pageRequest.Size == 0 {
		return &result{status: http.StatusOK, value: querySet}, nil
	}

	envelope, err := models.Paginate(ctx, querySet, pageRequest, descriptor.AllowEmpty)
	if xerrors.Is(err, models.ErrInvalidPage) {
		return nil, spanerrors.NotFound.New(err.Error(), nil, err)
	}
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	envelope.ToHeaders(header)
	return &result{status: http.StatusOK, value: envelope, header: header}, nil
}

func (dispatcher *Dispatcher) update(
	ctx context.Context, request *Request, payload map[string]interface{},
) (*result, error) {
	var instance store.Instance

	err := dispatcher.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		instance, err = dispatcher.single(ctx, tx, request)
		if xerrors.Is(err, store.ErrNotFound) {
			return spanerrors.RequestValidationError.New(err.Error(), nil, err)
		}
		if err != nil {
			return err
		}
		return dispatcher.write(ctx, tx, instance, payload)
	})
	if err != nil {
		return nil, err
	}

	return &result{status: http.StatusOK, value: instance}, nil
}

func (dispatcher *Dispatcher) create(
	ctx context.Context, payload map[string]interface{},
) (*result, error) {
	var instance store.Instance

	err := dispatcher.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		instance = tx.New(dispatcher.resource.descriptor.Model)
		return dispatcher.write(ctx, tx, instance, payload)
	})
	if err != nil {
		return nil, err
	}

	return &result{status: http.StatusCreated, value: instance}, nil
}

// write applies payload to instance, saves it and reconciles its many-to-many fields.
func (dispatcher *Dispatcher) write(
	ctx context.Context, tx store.Store, instance store.Instance, payload map[string]interface{},
) error {
	assigner := newAssigner(dispatcher.logger, tx)

	results, err := assigner.assign(ctx, instance, payload)
	if err != nil {
		return err
	}
	if err := dispatcher.checkRelations(results); err != nil {
		return err
	}

	if err := tx.Save(ctx, instance); err != nil {
		return persistenceError(err)
	}

	results, err = assigner.reconcile(ctx, instance, payload)
	if err != nil {
		return err
	}
	return dispatcher.checkRelations(results)
}

// checkRelations fails with the unresolved fields when the resource is strict.
func (dispatcher *Dispatcher) checkRelations(results []FieldResult) error {
	if !dispatcher.resource.descriptor.StrictRelations {
		return nil
	}

	var unresolved []interface{}
	for _, fieldResult := range results {
		if !fieldResult.Resolved {
			unresolved = append(unresolved, fieldResult.Field)
		}
	}
	if len(unresolved) == 0 {
		return nil
	}

	return spanerrors.RequestValidationError.New(
		"relations could not be resolved",
		map[string]interface{}{"fields": unresolved},
		nil,
	)
}

func (dispatcher *Dispatcher) delete(ctx context.Context, request *Request) (*result, error) {
	err := dispatcher.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		instance, err := dispatcher.single(ctx, tx, request)
		if xerrors.Is(err, store.ErrNotFound) {
			return spanerrors.Gone.New(err.Error(), nil, err)
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(ctx, instance); err != nil {
			return persistenceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result{status: http.StatusNoContent, value: spantypes.NoContent()}, nil
}

func persistenceError(err error) error {
	return spanerrors.PersistenceError.New(err.Error(), nil, err)
}

// render serializes and encodes the outcome of an action.
func (dispatcher *Dispatcher) render(
	ctx context.Context, request *Request, format string, outcome *result,
) (*spantypes.Response, error) {
	var response *spantypes.Response

	switch typed := outcome.value.(type) {
	case *spantypes.Response:
		return typed, nil
	case string:
		response = spantypes.Text(outcome.status, typed)
	default:
		fields := dispatcher.fields(request)

		serialized, err := dispatcher.serializer.Serialize(ctx, outcome.value, fields)
		if err != nil {
			return nil, xerrors.Errorf(
				"error serializing %s: %w", dispatcher.resource.Name(), err,
			)
		}

		response, err = dispatcher.engine.Encode(format, serialized)
		if err != nil {
			return nil, err
		}
	}

	response.Status = outcome.status
	for key, values := range outcome.header {
		for _, value := range values {
			response.Header.Add(key, value)
		}
	}
	return response, nil
}

func (dispatcher *Dispatcher) fields(request *Request) fieldset.Fields {
	return dispatcher.resource.descriptor.Fields.Resolve(request.Query)
}
