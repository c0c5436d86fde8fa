package spanerrors

// Base Error. Used when generic error is returned by route handler.
var APIError = NewSpanErrorType(
	"APIError",
	1000,
	502,
)

// Resource does not allow the HTTP method (GET, POST, PUT, etc.)
var InvalidMethodError = NewSpanErrorType(
	"InvalidMethodError",
	1001,
	405,
)

// No media to return.
var NothingToReturnError = NewSpanErrorType(
	"NothingToReturnError",
	1002,
	400,
)

// Error Occurred when Reading / validating Request Data.
var RequestValidationError = NewSpanErrorType(
	"RequestValidationError",
	1003,
	400,
)

// Request Exceeds API limit.
var APILimitError = NewSpanErrorType(
	"APILimitError",
	1004,
	400,
)

// Error occurred when writing Response.
var ResponseValidationError = NewSpanErrorType(
	"ResponseValidationError",
	1005,
	400,
)

// Sent back when the server raises an error that is not a client error. This type
// SHOULD NOT be invoked by app logic.
var ServerError = NewSpanErrorType(
	"ServerError",
	1006,
	500,
)

// No decoder accepts the content type of the request body.
var UnsupportedMediaType = NewSpanErrorType(
	"UnsupportedMediaType",
	1007,
	400,
)

// The request body could not be parsed as its content type.
var MalformedBody = NewSpanErrorType(
	"MalformedBody",
	1008,
	400,
)

// Nothing matches the request, or the page does not exist.
var NotFound = NewSpanErrorType(
	"NotFound",
	1009,
	404,
)

// The instance to delete does not exist (anymore).
var Gone = NewSpanErrorType(
	"Gone",
	1010,
	410,
)

var Conflict = NewSpanErrorType(
	"Conflict",
	1011,
	409,
)

var NotAcceptable = NewSpanErrorType(
	"NotAcceptable",
	1012,
	406,
)

// The store refused to save or delete an instance.
var PersistenceError = NewSpanErrorType(
	"PersistenceError",
	1013,
	400,
)

// The resource declaration does not fit the data, like a single lookup matching
// several instances.
var MisconfiguredResource = NewSpanErrorType(
	"MisconfiguredResource",
	1014,
	500,
)

// List of default SpanError definitions.
var ErrorList = [15]*SpanErrorType{
	APIError,
	InvalidMethodError,
	NothingToReturnError,
	RequestValidationError,
	APILimitError,
	ResponseValidationError,
	ServerError,
	UnsupportedMediaType,
	MalformedBody,
	NotFound,
	Gone,
	Conflict,
	NotAcceptable,
	PersistenceError,
	MisconfiguredResource,
}

// Used to make ErrorTypeCodeIndex.
func makeDefaultErrorCodeIndex() map[int]*SpanErrorType {
	index := make(map[int]*SpanErrorType)
	for _, errorType := range ErrorList {
		index[errorType.apiCode] = errorType
	}
	return index
}

// ApiCode:*ErrorType indexing of default errors.
var ErrorTypeCodeIndex = makeDefaultErrorCodeIndex()
