/*
Spanreed error model definition and default span errors.

The Spanreed family strives to have a consistent set of errors (and error communication)
conventions shared between all services and clients.

This module defines two main objects for handing errors:

• SpanErrorType defines an error type.

• SpanError is an instance of an error which contains a SpanErrorType.

A SpanError travels to clients as a text/plain body holding its message, with the rest
of the error written to the error-* response headers by SpanError.ToHeader. The server
only writes those headers. ErrorFromHeaders is the client half of the exchange: callers
of a spanrest service use it to rebuild the SpanError from a response.

Default SpanErrorType Variables

Several pointers to SpanErrorType definitions are included in this package. Codes
1000-1999 are reserved for them, ErrorTypeCodeIndex maps each code to its type.
*/
package spanerrors
