package resource

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/encoding"
	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/spanerrors"
	"github.com/illuscio-dev/spanrest-go/spantypes"
	"github.com/illuscio-dev/spanrest-go/store"
	"github.com/illuscio-dev/spanrest-go/store/memory"
)

type dispatcherTestSuite struct {
	suite.Suite
	logger   logger.Logger
	ctx      context.Context
	registry *store.Registry
	store    *memory.Store
	engine   *encoding.Engine
	author   *store.Model
	tag      *store.Model
	book     *store.Model
}

func (suite *dispatcherTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.engine, err = encoding.NewEngine()
	suite.Require().NoError(err)

	suite.ctx = context.Background()
	suite.registry = store.NewRegistry().MustRegister(
		&store.Model{
			App:        "library",
			Name:       "author",
			NaturalKey: []string{"name"},
			Fields: []*store.Field{
				{Name: "name", Type: store.TypeString},
				{Name: "born", Type: store.TypeInteger},
			},
		},
		&store.Model{
			App:    "library",
			Name:   "tag",
			Fields: []*store.Field{{Name: "label", Type: store.TypeString}},
		},
		&store.Model{
			App:  "library",
			Name: "book",
			Fields: []*store.Field{
				{Name: "title", Type: store.TypeString},
				{
					Name:     "author",
					Kind:     store.ForeignKey,
					Related:  "library.author",
					Nullable: true,
				},
				{Name: "tags", Kind: store.ManyToMany, Related: "library.tag"},
			},
		},
	)
	suite.Require().NoError(suite.registry.Validate())

	suite.author, _ = suite.registry.Get("library.author")
	suite.tag, _ = suite.registry.Get("library.tag")
	suite.book, _ = suite.registry.Get("library.book")
	suite.store = memory.NewStore(suite.registry)

	herbert := suite.save(suite.author, map[string]interface{}{"name": "Herbert", "born": 1920})
	austen := suite.save(suite.author, map[string]interface{}{"name": "Austen", "born": 1775})
	scienceFiction := suite.save(suite.tag, map[string]interface{}{"label": "sf"})
	suite.save(suite.tag, map[string]interface{}{"label": "classic"})

	dune := suite.save(suite.book, map[string]interface{}{"title": "Dune", "author_id": herbert.PK()})
	suite.save(suite.book, map[string]interface{}{"title": "Emma", "author_id": austen.PK()})
	suite.save(suite.book, map[string]interface{}{"title": "Orphan"})

	suite.Require().NoError(
		suite.store.SetMembers(suite.ctx, dune, "tags", []interface{}{scienceFiction.PK()}),
	)
}

func (suite *dispatcherTestSuite) save(
	model *store.Model, values map[string]interface{},
) store.Instance {
	instance := suite.store.New(model)
	for column, value := range values {
		instance.SetValue(column, value)
	}
	suite.Require().NoError(suite.store.Save(suite.ctx, instance))
	return instance
}

func (suite *dispatcherTestSuite) dispatcher(descriptor Descriptor) *Dispatcher {
	if descriptor.Name == "" {
		descriptor.Name = "books"
	}
	if descriptor.Model == nil {
		descriptor.Model = suite.book
	}

	resource, err := New(descriptor)
	suite.Require().NoError(err)

	dispatcher, err := NewDispatcher(suite.logger, resource, suite.store, suite.engine)
	suite.Require().NoError(err)
	return dispatcher
}

func (suite *dispatcherTestSuite) dispatch(dispatcher *Dispatcher, request *Request) *spantypes.Response {
	response, err := dispatcher.Dispatch(suite.ctx, request)
	suite.Require().NoError(err)
	suite.Require().NotNil(response)
	return response
}

func (suite *dispatcherTestSuite) get(rawQuery string, params lookup.Params) *Request {
	query, err := url.ParseQuery(rawQuery)
	suite.Require().NoError(err)
	return &Request{Method: http.MethodGet, Query: lookup.Query(query), Params: params}
}

func (suite *dispatcherTestSuite) send(
	method string, contentType string, body string, params lookup.Params,
) *Request {
	return &Request{
		Method:      method,
		ContentType: contentType,
		Params:      params,
		Body:        strings.NewReader(body),
	}
}

func (suite *dispatcherTestSuite) decode(response *spantypes.Response) interface{} {
	suite.Require().Equal("application/json", string(response.MimeType))

	var decoded interface{}
	suite.Require().NoError(suite.engine.DecodeJSON(response.Body, &decoded))
	return decoded
}

func without(decoded interface{}, key string) map[string]interface{} {
	mapping := decoded.(map[string]interface{})
	delete(mapping, key)
	return mapping
}

func (suite *dispatcherTestSuite) assertClientError(
	response *spantypes.Response, errorType *spanerrors.SpanErrorType,
) {
	suite.Equal(errorType.HttpCode(), response.Status)
	suite.Equal(errorType.Name(), response.Header.Get("error-name"))
	suite.NotEmpty(response.Header.Get("error-id"))
}

func (suite *dispatcherTestSuite) count(model *store.Model) int {
	count, err := suite.store.QuerySet(model).Count(suite.ctx)
	suite.Require().NoError(err)
	return count
}

func (suite *dispatcherTestSuite) titles() []interface{} {
	instances, err := suite.store.QuerySet(suite.book).All(suite.ctx)
	suite.Require().NoError(err)

	var titles []interface{}
	for _, instance := range instances {
		title, _ := instance.Value("title")
		titles = append(titles, title)
	}
	return titles
}

func (suite *dispatcherTestSuite) TestReadCollection() {
	dispatcher := suite.dispatcher(Descriptor{
		AllowEmpty: true,
		Fields:     fieldset.Fixed(fieldset.Names("title", "author")),
	})

	response := suite.dispatch(dispatcher, suite.get("", nil))

	suite.Equal(http.StatusOK, response.Status)
	suite.Equal([]interface{}{
		map[string]interface{}{"title": "Dune", "author": int64(1)},
		map[string]interface{}{"title": "Emma", "author": int64(2)},
		map[string]interface{}{"title": "Orphan", "author": nil},
	}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestReadCollectionLookups() {
	dispatcher := suite.dispatcher(Descriptor{
		AllowEmpty: true,
		Criteria:   store.Criteria{"title__in": []interface{}{"Dune", "Emma"}},
		QueryLookups: []lookup.Parameter{
			{Name: "author", Field: "author_id", Conversion: lookup.Int},
		},
		Fields: fieldset.Fixed(fieldset.Names("title")),
	})

	response := suite.dispatch(dispatcher, suite.get("author=2", nil))
	suite.Equal([]interface{}{
		map[string]interface{}{"title": "Emma"},
	}, suite.decode(response))

	// a value the conversion rejects matches nothing
	response = suite.dispatch(dispatcher, suite.get("author=abc", nil))
	suite.Equal(http.StatusOK, response.Status)
	suite.Len(suite.decode(response), 0)
}

func (suite *dispatcherTestSuite) TestReadCollectionPathLookups() {
	dispatcher := suite.dispatcher(Descriptor{
		PathLookups: []lookup.Parameter{{Name: "author", Field: "author_id"}},
		Fields:      fieldset.Fixed(fieldset.Names("title")),
	})

	response := suite.dispatch(dispatcher, suite.get("", lookup.Params{"author": "1"}))
	suite.Equal([]interface{}{
		map[string]interface{}{"title": "Dune"},
	}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestReadEmptyCollection() {
	descriptor := Descriptor{
		QueryLookups: []lookup.Parameter{{Name: "title"}},
	}

	response := suite.dispatch(suite.dispatcher(descriptor), suite.get("title=Ubik", nil))
	suite.assertClientError(response, spanerrors.NotFound)

	descriptor.AllowEmpty = true
	response = suite.dispatch(suite.dispatcher(descriptor), suite.get("title=Ubik", nil))
	suite.Equal(http.StatusOK, response.Status)
	suite.Len(suite.decode(response), 0)
}

func (suite *dispatcherTestSuite) TestReadSingle() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Fields{
			{Name: "title"},
			fieldset.Nested("author", fieldset.Names("name")),
			{Name: "tags"},
		}),
	})

	response := suite.dispatch(dispatcher, suite.get("", lookup.Params{PKParam: "1"}))
	suite.Equal(http.StatusOK, response.Status)
	suite.Equal(map[string]interface{}{
		"title":  "Dune",
		"author": map[string]interface{}{"name": "Herbert"},
		"tags": []interface{}{
			map[string]interface{}{"id": int64(1), "label": "sf"},
		},
	}, suite.decode(response))

	response = suite.dispatch(dispatcher, suite.get("", lookup.Params{PKParam: "99"}))
	suite.assertClientError(response, spanerrors.NotFound)
}

func (suite *dispatcherTestSuite) TestReadBySlug() {
	dispatcher := suite.dispatcher(Descriptor{
		SlugField: "title",
		Fields:    fieldset.Fixed(fieldset.Names("id")),
	})

	response := suite.dispatch(dispatcher, suite.get("", lookup.Params{SlugParam: "Emma"}))
	suite.Equal(map[string]interface{}{"id": int64(2)}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestSelectableFields() {
	fields, err := fieldset.Selectable("view", "short", map[string]fieldset.Fields{
		"short": fieldset.Names("title"),
		"key":   fieldset.Names("natural.key"),
	})
	suite.Require().NoError(err)

	dispatcher := suite.dispatcher(Descriptor{
		Name:   "authors",
		Model:  suite.author,
		Fields: fields,
	})

	response := suite.dispatch(dispatcher, suite.get("view=key", lookup.Params{PKParam: "1"}))
	suite.Equal("Herbert", suite.decode(response))

	response = suite.dispatch(dispatcher, suite.get("view=unknown", lookup.Params{PKParam: "1"}))
	suite.Equal(map[string]interface{}{}, suite.decode(response))

	// requests built without a query get the default set
	request := suite.get("", lookup.Params{PKParam: "1"})
	request.Query = nil
	response = suite.dispatch(dispatcher, request)
	suite.Equal(map[string]interface{}{}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestSingletonMultipleMatchIsFault() {
	dispatcher := suite.dispatcher(Descriptor{Singleton: true})

	response, err := dispatcher.Dispatch(suite.ctx, suite.get("", nil))

	suite.Nil(response)
	suite.Require().Error(err)

	var spanErr *spanerrors.SpanError
	suite.Require().True(xerrors.As(err, &spanErr))
	suite.True(spanErr.IsType(spanerrors.MisconfiguredResource))
	suite.True(xerrors.Is(err, store.ErrMultipleFound))
}

func (suite *dispatcherTestSuite) TestSingleton() {
	dispatcher := suite.dispatcher(Descriptor{
		Singleton: true,
		Criteria:  store.Criteria{"title": "Orphan"},
		Fields:    fieldset.Fixed(fieldset.Names("title")),
	})

	response := suite.dispatch(dispatcher, suite.get("", nil))
	suite.Equal(map[string]interface{}{"title": "Orphan"}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestPagination() {
	dispatcher := suite.dispatcher(Descriptor{
		PaginateBy: 2,
		AllowEmpty: true,
		Fields:     fieldset.Fixed(fieldset.Names("title")),
	})

	response := suite.dispatch(dispatcher, suite.get("page=last", nil))
	suite.Equal(http.StatusOK, response.Status)
	suite.Equal(map[string]interface{}{
		"pages": int64(2),
		"from":  int64(3),
		"to":    int64(3),
		"total": int64(3),
		"items": []interface{}{map[string]interface{}{"title": "Orphan"}},
	}, suite.decode(response))
	suite.Equal("2", response.Header.Get("paging-current-page"))
	suite.Equal("1", response.Header.Get("paging-previous"))
	suite.Equal("", response.Header.Get("paging-next"))

	// path parameter wins over the query
	response = suite.dispatch(dispatcher, suite.get("page=2", lookup.Params{"page": "1"}))
	envelope := suite.decode(response).(map[string]interface{})
	suite.Equal(int64(1), envelope["from"])
	suite.Equal(int64(2), envelope["to"])

	// items overrides the page size, 0 disables pagination
	response = suite.dispatch(dispatcher, suite.get("items=0", nil))
	suite.Len(suite.decode(response), 3)

	for _, rawQuery := range []string{"page=first", "page=3", "page=0", "items=x"} {
		response = suite.dispatch(dispatcher, suite.get(rawQuery, nil))
		suite.assertClientError(response, spanerrors.NotFound)
	}
}

func (suite *dispatcherTestSuite) TestFormats() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("title", "author")),
	})

	request := suite.get("", lookup.Params{PKParam: "1"})
	request.Format = ".xml"

	response := suite.dispatch(dispatcher, request)
	suite.Equal("application/xml", string(response.MimeType))
	suite.Equal(
		encoding.XMLDeclaration+"<response><author>1</author><title>Dune</title></response>",
		string(response.Body),
	)

	// aliases render with the encoder serving their mimetype
	for _, alias := range []string{"yml", ".YAML"} {
		request.Format = alias
		response = suite.dispatch(dispatcher, request)
		suite.Equal("application/yaml", string(response.MimeType))
		suite.Contains(string(response.Body), "title: Dune")
	}

	request.Format = "csv"
	response, err := dispatcher.Dispatch(suite.ctx, request)
	suite.Nil(response)
	suite.True(xerrors.Is(err, encoding.ErrNoEncoder))
}

func (suite *dispatcherTestSuite) TestAliasDefaultFormat() {
	dispatcher := suite.dispatcher(Descriptor{DefaultFormat: "yml"})

	response := suite.dispatch(dispatcher, suite.get("", lookup.Params{PKParam: "1"}))
	suite.Equal("application/yaml", string(response.MimeType))
}

func (suite *dispatcherTestSuite) TestUnknownDefaultFormat() {
	resource, err := New(Descriptor{Name: "books", Model: suite.book, DefaultFormat: "csv"})
	suite.Require().NoError(err)

	dispatcher, err := NewDispatcher(suite.logger, resource, suite.store, suite.engine)
	suite.Nil(dispatcher)
	suite.True(xerrors.Is(err, encoding.ErrNoEncoder))
}

func (suite *dispatcherTestSuite) TestMethodNotAllowed() {
	dispatcher := suite.dispatcher(Descriptor{Methods: []string{http.MethodGet}})

	response := suite.dispatch(
		dispatcher, suite.send(http.MethodPost, "application/json", `{"title": "Ubik"}`, nil),
	)

	suite.assertClientError(response, spanerrors.InvalidMethodError)
	suite.Equal(3, suite.count(suite.book))
}

func (suite *dispatcherTestSuite) TestCreate() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("id", "title", "author", "tags")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost,
		"application/json; charset=utf-8",
		`{"id": 40, "title": "Children of Dune", "author": {"id": 1}, "tags": [1, {"id": 2}]}`,
		nil,
	))

	suite.Equal(http.StatusCreated, response.Status)
	suite.Equal(map[string]interface{}{
		"id":     int64(4),
		"title":  "Children of Dune",
		"author": int64(1),
		"tags": []interface{}{
			map[string]interface{}{"id": int64(1), "label": "sf"},
			map[string]interface{}{"id": int64(2), "label": "classic"},
		},
	}, suite.decode(response))
	suite.Equal(4, suite.count(suite.book))
}

func (suite *dispatcherTestSuite) TestCreateNaturalKeys() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("title", "author")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"title": "Persuasion", "author": ["Austen"]}`, nil,
	))

	suite.Equal(http.StatusCreated, response.Status)
	suite.Equal(map[string]interface{}{
		"title":  "Persuasion",
		"author": int64(2),
	}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestCreateForm() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("title", "author")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/x-www-form-urlencoded", "title=Ubik&author_id=1", nil,
	))

	suite.Equal(http.StatusCreated, response.Status)
	suite.Equal(map[string]interface{}{
		"title":  "Ubik",
		"author": int64(1),
	}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestCreateXML() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("title", "tags")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost,
		"text/xml",
		"<response><title>Ubik</title><tags><resource>2</resource></tags></response>",
		nil,
	))

	suite.Equal(http.StatusCreated, response.Status)
	suite.Equal(map[string]interface{}{
		"title": "Ubik",
		"tags": []interface{}{
			map[string]interface{}{"id": int64(2), "label": "classic"},
		},
	}, suite.decode(response))
}

func (suite *dispatcherTestSuite) TestCreateBestEffortRelations() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("title", "author")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"title": "Lost", "author": 99}`, nil,
	))

	suite.Equal(http.StatusCreated, response.Status)
	suite.Equal(map[string]interface{}{
		"title":  "Lost",
		"author": nil,
	}, suite.decode(response))
	suite.Equal(4, suite.count(suite.book))
}

func (suite *dispatcherTestSuite) TestCreateStrictRelations() {
	dispatcher := suite.dispatcher(Descriptor{StrictRelations: true})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"title": "Lost", "author": 99}`, nil,
	))
	suite.assertClientError(response, spanerrors.RequestValidationError)
	suite.Equal(`{"fields":["author"]}`, response.Header.Get("error-data"))

	// members are reconciled after the save, which is rolled back
	response = suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"title": "Lost", "tags": [{"label": "sf"}]}`, nil,
	))
	suite.assertClientError(response, spanerrors.RequestValidationError)

	suite.Equal(3, suite.count(suite.book))
}

func (suite *dispatcherTestSuite) TestCreatePersistenceFailure() {
	dispatcher := suite.dispatcher(Descriptor{Name: "authors", Model: suite.author})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"name": "Le Guin", "born": "autumn"}`, nil,
	))

	suite.assertClientError(response, spanerrors.PersistenceError)
	suite.Contains(string(response.Body), "invalid value for field born")
	suite.Equal(2, suite.count(suite.author))
}

func (suite *dispatcherTestSuite) TestBadBodies() {
	dispatcher := suite.dispatcher(Descriptor{})

	response := suite.dispatch(
		dispatcher, suite.send(http.MethodPost, "application/json", `{"title": `, nil),
	)
	suite.assertClientError(response, spanerrors.MalformedBody)

	response = suite.dispatch(dispatcher, suite.send(
		http.MethodPost, "application/json", `{"title": "Trailing"} this is not json`, nil,
	))
	suite.assertClientError(response, spanerrors.MalformedBody)
	suite.Equal("bad request: unparsable body", string(response.Body))

	response = suite.dispatch(
		dispatcher, suite.send(http.MethodPost, "text/csv", "title\nUbik", nil),
	)
	suite.assertClientError(response, spanerrors.UnsupportedMediaType)
	suite.Equal("text/csv: unsupported media type", string(response.Body))

	response = suite.dispatch(
		dispatcher, suite.send(http.MethodPost, "application/json", `["Ubik"]`, nil),
	)
	suite.assertClientError(response, spanerrors.RequestValidationError)

	suite.Equal(3, suite.count(suite.book))
}

func (suite *dispatcherTestSuite) TestUpdate() {
	dispatcher := suite.dispatcher(Descriptor{
		Fields: fieldset.Fixed(fieldset.Names("id", "title", "author", "tags")),
	})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPut,
		"application/json",
		`{"id": 7, "title": "Dune Messiah", "author": null, "tags": []}`,
		lookup.Params{PKParam: "1"},
	))

	suite.Equal(http.StatusOK, response.Status)
	suite.Equal(map[string]interface{}{
		"id":     int64(1),
		"title":  "Dune Messiah",
		"author": nil,
	}, without(suite.decode(response), "tags"))
	suite.Len(suite.decode(response).(map[string]interface{})["tags"], 0)
	suite.Equal([]interface{}{"Dune Messiah", "Emma", "Orphan"}, suite.titles())
}

func (suite *dispatcherTestSuite) TestUpdateMissing() {
	dispatcher := suite.dispatcher(Descriptor{})

	response := suite.dispatch(dispatcher, suite.send(
		http.MethodPut, "application/json", `{"title": "Ubik"}`, lookup.Params{PKParam: "99"},
	))
	suite.assertClientError(response, spanerrors.RequestValidationError)

	response = suite.dispatch(dispatcher, suite.send(
		http.MethodPut, "application/json", `{"title": "Ubik"}`, nil,
	))
	suite.assertClientError(response, spanerrors.RequestValidationError)

	suite.Equal([]interface{}{"Dune", "Emma", "Orphan"}, suite.titles())
}

func (suite *dispatcherTestSuite) TestDelete() {
	dispatcher := suite.dispatcher(Descriptor{})
	request := &Request{Method: http.MethodDelete, Params: lookup.Params{PKParam: "2"}}

	response := suite.dispatch(dispatcher, request)
	suite.Equal(http.StatusNoContent, response.Status)
	suite.Empty(response.Body)
	suite.Equal([]interface{}{"Dune", "Orphan"}, suite.titles())

	response = suite.dispatch(dispatcher, request)
	suite.assertClientError(response, spanerrors.Gone)
}

func TestDispatcherTestSuite(test *testing.T) {
	suite.Run(test, new(dispatcherTestSuite))
}
