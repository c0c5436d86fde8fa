package models

import (
	"context"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

// ErrInvalidPage is returned for page numbers or sizes that are not integers or are out
// of range.
var ErrInvalidPage = xerrors.New("invalid page")

// LastPage may be requested instead of a page number.
const LastPage = "last"

// Request parameters read for pagination.
const (
	PageParam  = "page"
	ItemsParam = "items"
)

type valueSetter interface {
	Set(key string, value string)
}

type valueFetcher interface {
	Get(key string) string
}

// source is where page parameters are read from. lookup.Params and lookup.Query
// satisfy it.
type source interface {
	Lookup(name string) (string, bool)
}

// Paging parameters for request.
type PagingReq struct {
	// How far to offset the page.
	Offset int
	// Maximum item count to return.
	Limit int
}

// Dumps paging information to request URL params.
func (pagingReq *PagingReq) ToParams(params valueSetter) {
	params.Set("paging-offset", strconv.Itoa(pagingReq.Offset))
	// Only send back limit if it is valid.
	if pagingReq.Limit > 0 {
		params.Set("paging-limit", strconv.Itoa(pagingReq.Limit))
	}
}

// PagingResp is the paging information carried by the headers of a paged response.
type PagingResp struct {
	*PagingReq
	TotalItems  int
	TotalPages  int
	CurrentPage int
	Next        string
	Previous    string
}

func (pagingResp *PagingResp) ToHeaders(headers valueSetter) {
	pagingResp.PagingReq.ToParams(headers)
	// Only send back valid fields.
	if pagingResp.TotalItems > -1 {
		headers.Set("paging-total-items", strconv.Itoa(pagingResp.TotalItems))
	}
	if pagingResp.TotalPages > -1 {
		headers.Set("paging-total-pages", strconv.Itoa(pagingResp.TotalPages))
	}
	if pagingResp.CurrentPage > -1 {
		headers.Set("paging-current-page", strconv.Itoa(pagingResp.CurrentPage))
	}
	if pagingResp.Previous != "" {
		headers.Set("paging-previous", pagingResp.Previous)
	}
	if pagingResp.Next != "" {
		headers.Set("paging-next", pagingResp.Next)
	}
}

func getInt(headers valueFetcher, fieldName string, defaultValue int) (int, error) {
	value := headers.Get(fieldName)
	if value == "" {
		return defaultValue, nil
	}

	valueInt, err := strconv.Atoi(value)
	if err != nil {
		return 0, xerrors.New(fieldName + " is not int")
	}
	return valueInt, nil
}

// Generates a PagingReq object from request parameters.
func PagingReqFromParams(
	headers valueFetcher, defaultLimit int,
) (pagingReq *PagingReq, err error) {
	pagingReq = &PagingReq{}

	pagingReq.Offset, err = getInt(headers, "paging-offset", 0)
	if err != nil {
		return nil, err
	}

	pagingReq.Limit, err = getInt(headers, "paging-limit", defaultLimit)
	if err != nil {
		return nil, err
	}

	return pagingReq, nil
}

// PagingRespFromHeaders reads the paging headers of a response. Counts that are absent
// are set to -1.
func PagingRespFromHeaders(
	params valueFetcher, defaultLimit int,
) (pagingResp *PagingResp, err error) {
	pagingReq, err := PagingReqFromParams(params, defaultLimit)
	if err != nil {
		return nil, err
	}

	pagingResp = &PagingResp{PagingReq: pagingReq}

	pagingResp.TotalPages, err = getInt(params, "paging-total-pages", -1)
	if err != nil {
		return nil, err
	}

	pagingResp.TotalItems, err = getInt(params, "paging-total-items", -1)
	if err != nil {
		return nil, err
	}

	pagingResp.CurrentPage, err = getInt(params, "paging-current-page", -1)
	if err != nil {
		return nil, err
	}

	pagingResp.Previous = params.Get("paging-previous")
	pagingResp.Next = params.Get("paging-next")

	return pagingResp, nil
}

// PageRequest is the page a request asks for.
type PageRequest struct {
	// Items per page, 0 when pagination is disabled.
	Size int
	// 1 based page number, ignored when Last is set.
	Number int
	Last   bool
}

// NewPageRequest reads the page size and number of a request.
//
// The size is the items query parameter when paginateBy is not 0, and paginateBy
// otherwise. The number comes from the page path parameter, then the page query
// parameter, and defaults to 1.
func NewPageRequest(params source, query source, paginateBy int) (PageRequest, error) {
	request := PageRequest{Size: paginateBy, Number: 1}
	if paginateBy == 0 {
		return request, nil
	}

	if items, ok := lookupValue(query, ItemsParam); ok {
		size, err := strconv.Atoi(items)
		if err != nil || size < 0 {
			return PageRequest{}, xerrors.Errorf("items %q: %w", items, ErrInvalidPage)
		}
		request.Size = size
	}

	page, ok := lookupValue(params, PageParam)
	if !ok {
		page, ok = lookupValue(query, PageParam)
	}
	if !ok {
		return request, nil
	}

	if page == LastPage {
		request.Last = true
		return request, nil
	}

	number, err := strconv.Atoi(page)
	if err != nil {
		return PageRequest{}, xerrors.Errorf(
			"page %q is not %q nor an integer: %w", page, LastPage, ErrInvalidPage,
		)
	}
	request.Number = number
	return request, nil
}

// lookupValue treats empty values as absent.
func lookupValue(values source, name string) (string, bool) {
	if values == nil {
		return "", false
	}
	value, ok := values.Lookup(name)
	return value, ok && value != ""
}

// Envelope is one page of a collection.
type Envelope struct {
	Pages int
	// 1 based index of the first item on the page, 0 for an empty page.
	From  int
	To    int
	Total int
	Items []store.Instance

	number int
	size   int
}

// ToMap exposes the envelope to the serializer.
func (envelope *Envelope) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"pages": envelope.Pages,
		"from":  envelope.From,
		"to":    envelope.To,
		"total": envelope.Total,
		"items": envelope.Items,
	}
}

// Paging returns the header form of the envelope.
func (envelope *Envelope) Paging() *PagingResp {
	offset := 0
	if envelope.From > 0 {
		offset = envelope.From - 1
	}

	paging := &PagingResp{
		PagingReq:   &PagingReq{Offset: offset, Limit: envelope.size},
		TotalItems:  envelope.Total,
		TotalPages:  envelope.Pages,
		CurrentPage: envelope.number,
	}
	if envelope.number > 1 {
		paging.Previous = strconv.Itoa(envelope.number - 1)
	}
	if envelope.number < envelope.Pages {
		paging.Next = strconv.Itoa(envelope.number + 1)
	}
	return paging
}

// ToHeaders writes the paging-* headers of the envelope.
func (envelope *Envelope) ToHeaders(headers valueSetter) {
	envelope.Paging().ToHeaders(headers)
}

// Paginate loads the requested page of querySet. An empty collection has a single
// empty page when allowEmpty is set, and no pages otherwise.
func Paginate(
	ctx context.Context, querySet store.QuerySet, request PageRequest, allowEmpty bool,
) (*Envelope, error) {
	if request.Size <= 0 {
		return nil, xerrors.Errorf("page size %d: %w", request.Size, ErrInvalidPage)
	}

	total, err := querySet.Count(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error counting collection: %w", err)
	}

	pages := (total + request.Size - 1) / request.Size
	if total == 0 && allowEmpty {
		pages = 1
	}

	number := request.Number
	if request.Last {
		number = pages
	}
	if number < 1 || number > pages {
		return nil, xerrors.Errorf("page %d: %w", number, ErrInvalidPage)
	}

	envelope := &Envelope{
		Pages:  pages,
		Total:  total,
		Items:  []store.Instance{},
		number: number,
		size:   request.Size,
	}
	if total == 0 {
		return envelope, nil
	}

	offset := (number - 1) * request.Size
	items, err := querySet.Slice(ctx, offset, request.Size)
	if err != nil {
		return nil, xerrors.Errorf("error loading page %d: %w", number, err)
	}

	envelope.Items = items
	envelope.From = offset + 1
	envelope.To = offset + len(items)
	return envelope, nil
}
