package spantypes

import (
	"net/http"

	"github.com/illuscio-dev/spanrest-go/mimetype"
)

// BinData is used to hold raw binary blob information for values that need to be
// serialized. The serializer will hexify this data for transport.
type BinData []byte

// Response is a fully built transport response. Actions may return one to bypass
// serialization and encoding entirely; every stage after the action passes it through
// unchanged.
type Response struct {
	// HTTP status code.
	Status int
	// Media type of Body. Empty for bodiless responses.
	MimeType mimetype.MimeType
	// Extra headers to send along, may be nil.
	Header http.Header
	// Encoded payload.
	Body []byte
}

// NewResponse builds a response with the given status, media type and body.
func NewResponse(status int, mimeType mimetype.MimeType, body []byte) *Response {
	return &Response{
		Status:   status,
		MimeType: mimeType,
		Header:   make(http.Header),
		Body:     body,
	}
}

// NoContent returns an explicit bodiless 204.
func NoContent() *Response {
	return NewResponse(http.StatusNoContent, mimetype.UNKNOWN, nil)
}

// Text wraps raw text in a minimal text/plain response.
func Text(status int, text string) *Response {
	return NewResponse(status, mimetype.TEXT, []byte(text))
}

// Write copies the response onto an http.ResponseWriter.
func (response *Response) Write(writer http.ResponseWriter) error {
	for key, values := range response.Header {
		for _, value := range values {
			writer.Header().Add(key, value)
		}
	}
	switch response.MimeType {
	case mimetype.UNKNOWN:
	case mimetype.BSON:
		writer.Header().Set("Content-Type", string(response.MimeType))
	default:
		writer.Header().Set("Content-Type", string(response.MimeType)+"; charset=utf-8")
	}

	status := response.Status
	if status == 0 {
		status = http.StatusOK
	}
	writer.WriteHeader(status)

	if len(response.Body) == 0 || status == http.StatusNoContent {
		return nil
	}
	_, err := writer.Write(response.Body)
	return err
}
