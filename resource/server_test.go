package resource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"

	"github.com/illuscio-dev/spanrest-go/encoding"
	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/models"
	"github.com/illuscio-dev/spanrest-go/spanerrors"
	"github.com/illuscio-dev/spanrest-go/store"
	"github.com/illuscio-dev/spanrest-go/store/memory"
)

type serverTestSuite struct {
	suite.Suite
	logger         logger.Logger
	engine         *encoding.Engine
	server         *Server
	testHTTPServer *httptest.Server
}

func (suite *serverTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.engine, err = encoding.NewEngine()
	suite.Require().NoError(err)

	registry := store.NewRegistry().MustRegister(&store.Model{
		App:  "library",
		Name: "book",
		Fields: []*store.Field{
			{Name: "title", Type: store.TypeString},
			{Name: "slug", Type: store.TypeString},
		},
	})
	book, _ := registry.Get("library.book")
	memoryStore := memory.NewStore(registry)

	for _, title := range []string{"Dune", "Emma", "Ubik"} {
		instance := memoryStore.New(book)
		instance.SetValue("title", title)
		instance.SetValue("slug", strings.ToLower(title))
		suite.Require().NoError(memoryStore.Save(context.Background(), instance))
	}

	books, err := New(Descriptor{
		Name:       "books",
		Model:      book,
		PaginateBy: 2,
		Fields:     fieldset.Fixed(fieldset.Names("title")),
	})
	suite.Require().NoError(err)

	shelf, err := New(Descriptor{
		Name:          "shelf",
		Path:          "/library/shelf",
		Model:         book,
		Singleton:     true,
		DefaultFormat: "text",
		Methods:       []string{http.MethodGet},
	})
	suite.Require().NoError(err)

	suite.server = NewServer(suite.logger, ":0", memoryStore, suite.engine)
	suite.Require().NoError(suite.server.Mount(books, shelf))

	suite.testHTTPServer = httptest.NewServer(suite.server.Router)
}

func (suite *serverTestSuite) TearDownTest() {
	suite.testHTTPServer.Close()
}

func (suite *serverTestSuite) request(method string, path string, body string) (*http.Response, string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	request, err := http.NewRequest(method, suite.testHTTPServer.URL+path, reader)
	suite.Require().NoError(err)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := http.DefaultClient.Do(request)
	suite.Require().NoError(err)
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	suite.Require().NoError(err)
	return response, string(responseBody)
}

func (suite *serverTestSuite) TestDetailFormats() {
	response, body := suite.request(http.MethodGet, "/books/dune.json", "")
	suite.Equal(http.StatusOK, response.StatusCode)
	suite.Equal("application/json; charset=utf-8", response.Header.Get("Content-Type"))
	suite.JSONEq(`{"title": "Dune"}`, body)

	response, body = suite.request(http.MethodGet, "/books/emma.xml", "")
	suite.Equal(http.StatusOK, response.StatusCode)
	suite.Equal("application/xml; charset=utf-8", response.Header.Get("Content-Type"))
	suite.Equal(encoding.XMLDeclaration+"<response><title>Emma</title></response>", body)

	response, _ = suite.request(http.MethodGet, "/books/ubik/", "")
	suite.Equal(http.StatusOK, response.StatusCode)
}

func (suite *serverTestSuite) TestPages() {
	response, body := suite.request(http.MethodGet, "/books/page/2", "")
	suite.Equal(http.StatusOK, response.StatusCode)
	suite.Contains(body, "\"from\": 3")
	suite.Equal("2", response.Header.Get("paging-current-page"))
	suite.Equal("3", response.Header.Get("paging-total-items"))

	paging, err := models.PagingRespFromHeaders(response.Header, 0)
	suite.Require().NoError(err)
	suite.Equal(2, paging.CurrentPage)
	suite.Equal(2, paging.TotalPages)
	suite.Equal(3, paging.TotalItems)
	suite.Equal(2, paging.Offset)
	suite.Equal(2, paging.Limit)
	suite.Equal("1", paging.Previous)
	suite.Equal("", paging.Next)

	response, _ = suite.request(http.MethodGet, "/books?page=9", "")
	suite.Equal(http.StatusNotFound, response.StatusCode)
	suite.Equal("1009", response.Header.Get("error-code"))
}

func (suite *serverTestSuite) TestClientErrors() {
	response, body := suite.request(http.MethodGet, "/books/missing", "")
	suite.Equal(http.StatusNotFound, response.StatusCode)
	suite.Equal("text/plain; charset=utf-8", response.Header.Get("Content-Type"))
	suite.Equal("NotFound", response.Header.Get("error-name"))
	suite.Equal("no instance found matching the query", body)

	spanErr, hasErr, err := spanerrors.ErrorFromHeaders(
		response.Header, suite.engine, spanerrors.ErrorTypeCodeIndex,
	)
	suite.Require().NoError(err)
	suite.True(hasErr)
	suite.True(spanErr.IsType(spanerrors.NotFound))
	suite.Equal(body, spanErr.Message)

	response, _ = suite.request(http.MethodPost, "/library/shelf", `{"title": "Emma"}`)
	suite.Equal(http.StatusMethodNotAllowed, response.StatusCode)

	response, _ = suite.request(http.MethodDelete, "/books/missing", "")
	suite.Equal(http.StatusGone, response.StatusCode)
}

func (suite *serverTestSuite) TestFaultsAnswerServerError() {
	// the singleton matches every book
	response, body := suite.request(http.MethodGet, "/library/shelf", "")

	suite.Equal(http.StatusInternalServerError, response.StatusCode)
	suite.Equal(spanerrors.ServerError.Name(), response.Header.Get("error-name"))
	suite.Equal("internal server error", body)
}

func (suite *serverTestSuite) TestCreateAndDelete() {
	response, body := suite.request(http.MethodPost, "/books.json", `{"title": "Emma", "slug": "emma-2"}`)
	suite.Equal(http.StatusCreated, response.StatusCode)
	suite.JSONEq(`{"title": "Emma"}`, body)

	response, _ = suite.request(http.MethodDelete, "/books/emma-2", "")
	suite.Equal(http.StatusNoContent, response.StatusCode)
	suite.Equal("", response.Header.Get("Content-Type"))
}

func (suite *serverTestSuite) TestRoutes() {
	routes, err := suite.server.Routes()
	suite.Require().NoError(err)

	var patterns []string
	for _, route := range routes {
		patterns = append(patterns, route.Pattern)
	}

	suite.Equal([]string{
		"/books",
		"/books/page/{page}",
		"/books/{slug}",
		"/library/shelf",
	}, patterns)
	suite.Equal([]string{"GET"}, routes[3].Methods)
	suite.Equal("shelf", routes[3].Resource)
}

func TestServerTestSuite(test *testing.T) {
	suite.Run(test, new(serverTestSuite))
}
