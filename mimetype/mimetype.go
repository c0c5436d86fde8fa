// Enumeration-like type for content mimetypes.
package mimetype

import (
	"strings"
)

/*
MimeType is used to enumerate the default representation for content encoding types.
Non default MimeTypes can be used by wrapping a custom string:

	MimeType("text/csv")
*/
type MimeType string

const (
	JSON = MimeType("application/json")
	XML  = MimeType("application/xml")
	FORM = MimeType("application/x-www-form-urlencoded")
	BSON = MimeType("application/bson")
	YAML = MimeType("application/yaml")
	TEXT = MimeType("text/plain")
	// UNKNOWN is used when the incoming string is blank
	UNKNOWN = MimeType("")
)

// List of default mimeTypes that are encoded to / from objects (as opposed to raw
// text).
var objectMimeTypes = []MimeType{JSON, XML, BSON, YAML}

// formats maps the short format tags used in resource URLs (".json", ".xml") to the
// mimetype rendered for them.
var formats = map[string]MimeType{
	"json": JSON,
	"xml":  XML,
	"bson": BSON,
	"yaml": YAML,
	"yml":  YAML,
	"text": TEXT,
	"txt":  TEXT,
	"form": FORM,
}

// Interface for object used to set headers such as http.Request.Header or
// http.Response.Header
type headerFetcher interface {
	Get(string) string
}

// Extract content type from a message / request header.
func FromHeader(headers headerFetcher) MimeType {
	return FromString(headers.Get("Content-Type"))
}

/*
Convert MimeType from a string. Ignores case and media type parameters such as
"; charset=utf-8". If the MimeType is a default type, multiple formats are respected.
For instance, all of the following will yield "mimetype.JSON":

• "application/json"

• "application/JSON; charset=utf-8"

• "application/x-json"

• "json"

• "x-json"
*/
func FromString(incoming string) MimeType {
	incoming = strings.ToLower(StripParameters(incoming))

	if incoming == "" {
		return UNKNOWN
	}
	if incoming == "text/plain" || incoming == "text" {
		return TEXT
	}
	if incoming == string(FORM) || incoming == "form" {
		return FORM
	}
	if incoming == "text/xml" {
		return XML
	}

	for _, mimeType := range objectMimeTypes {
		mimeTypeLower := strings.ToLower(string(mimeType))
		mimeTypeLower = strings.Split(mimeTypeLower, "/")[1]
		if strings.HasSuffix(incoming, mimeTypeLower) {
			return mimeType
		}
	}

	return MimeType(incoming)
}

// StripParameters removes media type parameters ("; charset=utf-8") and surrounding
// whitespace from a Content-Type value.
func StripParameters(contentType string) string {
	if index := strings.Index(contentType, ";"); index >= 0 {
		contentType = contentType[:index]
	}
	return strings.TrimSpace(contentType)
}

// FromFormat returns the mimetype for a format tag such as "json" or ".xml". Leading
// dots are ignored. The second return is false when the tag is not known.
func FromFormat(format string) (MimeType, bool) {
	mimeType, ok := formats[strings.ToLower(strings.TrimLeft(format, "."))]
	return mimeType, ok
}
