package encoding

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/ugorji/go/codec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

var (
	// ErrMalformedBody is returned when the link for the content type could not parse
	// the body.
	ErrMalformedBody = xerrors.New("malformed request body")
	// ErrUnsupportedMediaType is returned when no decoder handles the content type.
	ErrUnsupportedMediaType = xerrors.New("unsupported media type")
	// ErrNoEncoder is returned when no encoder renders the requested format.
	ErrNoEncoder = xerrors.New("no encoder for format")
)

// Decoder is one link of the request decoding chain.
type Decoder interface {
	// TryDecode parses reader when the link accepts mimeType. handled is false when
	// the next link should be asked instead.
	TryDecode(mimeType mimetype.MimeType, reader io.Reader) (
		payload interface{}, handled bool, err error,
	)
}

// Encoder is one link of the response encoding chain. Values handed to it are already
// serialized into plain data.
type Encoder interface {
	// Format is the short tag ("json", "xml") a request selects the encoder by.
	Format() string
	MimeType() mimetype.MimeType
	// TryEncode renders value when the link serves format. handled is false when the
	// next link should be asked instead.
	TryEncode(format string, value interface{}) (
		response *spantypes.Response, handled bool, err error,
	)
}

/*
Engine holds the ordered decoder and encoder chains used by resources. The first link
that handles a content type or format wins.

Instantiation

Use NewEngine() to create an Engine with the default links.

Default Decoders

• application/x-www-form-urlencoded, also used when no content type is given

• application/json

• application/xml (text/xml), decoded into an *XMLNode tree

• application/yaml

• application/bson, with multiple documents separated by BsonListSepString

• text/plain

Default Encoders

json, xml, yaml, bson and text, in that order.

JSON Extensions

JSON goes through the codec library (https://godoc.org/github.com/ugorji/go/codec).
UUIDs, BinData, BSON binary and BSON raw documents are handled by the default
extensions, more can be added through AddJSONExtensions().

BSON Codecs

BSON goes through the official driver (https://godoc.org/go.mongodb.org/mongo-driver).
UUIDs are written as binary subtype 0x4. More codecs can be added through
AddBSONCodecs().

Panics

If a link panics, the panic is recovered: decoding panics are reported as
ErrMalformedBody and encoding panics as plain errors.
*/
type Engine struct {
	decoders []Decoder
	encoders []Encoder

	// compact handle, used for decoding and header values
	jsonHandle *codec.JsonHandle
	// indented handle, used for response bodies
	prettyHandle *codec.JsonHandle

	bsonRegistry *bsoncodec.Registry
	bsonCodecs   []*BsonCodecOpts
}

// AddDecoder appends a link to the decoding chain.
func (engine *Engine) AddDecoder(decoder Decoder) {
	engine.decoders = append(engine.decoders, decoder)
}

// AddEncoder appends a link to the encoding chain.
func (engine *Engine) AddEncoder(encoder Encoder) {
	engine.encoders = append(engine.encoders, encoder)
}

// Formats lists the format tags of the encoding chain in order.
func (engine *Engine) Formats() []string {
	formats := make([]string, len(engine.encoders))
	for index, encoder := range engine.encoders {
		formats[index] = encoder.Format()
	}
	return formats
}

// HandlesFormat tells whether some encoder renders format or one of its aliases.
func (engine *Engine) HandlesFormat(format string) bool {
	format = engine.NormalizeFormat(format)
	for _, encoder := range engine.encoders {
		if encoder.Format() == format {
			return true
		}
	}
	return false
}

/*
NormalizeFormat maps a URL format tag onto the format of the encoder serving it.
Tags are case insensitive and may carry a leading dot. Aliases such as "yml" or
"txt" resolve through their mimetype to the first encoder rendering that mimetype.
Unknown tags are returned lowercased so Encode can report them.
*/
func (engine *Engine) NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimLeft(format, "."))
	for _, encoder := range engine.encoders {
		if encoder.Format() == format {
			return format
		}
	}

	mimeType, ok := mimetype.FromFormat(format)
	if !ok {
		return format
	}
	for _, encoder := range engine.encoders {
		if encoder.MimeType() == mimeType {
			return encoder.Format()
		}
	}
	return format
}

// Runs a decoder while catching panics to return as errors.
func safeDecode(
	decoder Decoder, mimeType mimetype.MimeType, reader io.Reader,
) (payload interface{}, handled bool, err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			payload = nil
			handled = true
			err = xerrors.Errorf("panic during decode: %v", recovered)
		}
	}()

	return decoder.TryDecode(mimeType, reader)
}

// Runs an encoder while catching panics to return as errors.
func safeEncode(
	encoder Encoder, format string, value interface{},
) (response *spantypes.Response, handled bool, err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			response = nil
			handled = true
			err = xerrors.Errorf("panic during encode: %v", recovered)
		}
	}()

	return encoder.TryEncode(format, value)
}

// Decode runs the decoding chain for a Content-Type header value. Media type
// parameters such as charset are ignored.
func (engine *Engine) Decode(contentType string, reader io.Reader) (interface{}, error) {
	mimeType := mimetype.FromString(contentType)

	if readCloser, ok := reader.(io.ReadCloser); ok {
		defer func() {
			_ = readCloser.Close()
		}()
	}

	for _, decoder := range engine.decoders {
		payload, handled, err := safeDecode(decoder, mimeType, reader)
		if !handled {
			continue
		}
		if err != nil {
			return nil, xerrors.Errorf(
				"error decoding %s: %v: %w", mimeTypeName(mimeType), err, ErrMalformedBody,
			)
		}
		return payload, nil
	}

	return nil, xerrors.Errorf("%s: %w", mimeTypeName(mimeType), ErrUnsupportedMediaType)
}

// Encode renders serialized data in format with the first encoder serving it.
func (engine *Engine) Encode(format string, value interface{}) (*spantypes.Response, error) {
	for _, encoder := range engine.encoders {
		response, handled, err := safeEncode(encoder, format, value)
		if !handled {
			continue
		}
		if err != nil {
			return nil, xerrors.Errorf("error encoding %s: %w", format, err)
		}
		return response, nil
	}

	return nil, xerrors.Errorf("%q: %w", format, ErrNoEncoder)
}

// EncodeJSON encodes value as compact JSON with the engine's extensions.
func (engine *Engine) EncodeJSON(value interface{}) ([]byte, error) {
	var encoded []byte
	if err := codec.NewEncoderBytes(&encoded, engine.jsonHandle).Encode(value); err != nil {
		return nil, xerrors.Errorf("error encoding json: %w", err)
	}
	return encoded, nil
}

// DecodeJSON decodes data into receiver with the engine's extensions.
func (engine *Engine) DecodeJSON(data []byte, receiver interface{}) error {
	if err := codec.NewDecoderBytes(data, engine.jsonHandle).Decode(receiver); err != nil {
		return xerrors.Errorf("error decoding json: %w", err)
	}
	return nil
}

// JSONHandle returns the compact handle shared by the JSON decoder and EncodeJSON.
func (engine *Engine) JSONHandle() *codec.JsonHandle {
	return engine.jsonHandle
}

// BSONRegistry returns the registry used by the bson links.
func (engine *Engine) BSONRegistry() *bsoncodec.Registry {
	return engine.bsonRegistry
}

// AddJSONExtensions registers extensions on both JSON handles.
func (engine *Engine) AddJSONExtensions(extensions []*JSONExtensionOpts) error {
	for _, extOpts := range extensions {
		for _, handle := range []*codec.JsonHandle{engine.jsonHandle, engine.prettyHandle} {
			err := handle.SetInterfaceExt(extOpts.ValueType, 1, extOpts.ExtInterface)
			if err != nil {
				return xerrors.Errorf("error adding json extension: %w", err)
			}
		}
	}
	return nil
}

// AddBSONCodecs adds codecs to the registry used by the bson links.
func (engine *Engine) AddBSONCodecs(codecs []*BsonCodecOpts) error {
	// Kept so the registry can be rebuilt when more codecs are added later.
	engine.bsonCodecs = append(engine.bsonCodecs, codecs...)

	builder := bsoncodec.NewRegistryBuilder()
	bsoncodec.DefaultValueEncoders{}.RegisterDefaultEncoders(builder)
	bsoncodec.DefaultValueDecoders{}.RegisterDefaultDecoders(builder)

	for _, codecOpts := range engine.bsonCodecs {
		builder.RegisterCodec(codecOpts.ValueType, codecOpts.Codec)
	}
	engine.bsonRegistry = builder.Build()

	// The raw document extension needs the new registry to see the added codecs.
	return engine.AddJSONExtensions([]*JSONExtensionOpts{
		{
			ValueType:    reflect.TypeOf(bson.Raw{}),
			ExtInterface: &jsonExtBsonRaw{engine.bsonRegistry},
		},
	})
}

func mimeTypeName(mimeType mimetype.MimeType) string {
	if mimeType == mimetype.UNKNOWN {
		return "empty content type"
	}
	return string(mimeType)
}

// readAll loads the whole body; links parse from memory.
func readAll(reader io.Reader) ([]byte, error) {
	if reader == nil {
		return nil, nil
	}
	buffer := bytes.Buffer{}
	if _, err := buffer.ReadFrom(reader); err != nil {
		return nil, xerrors.Errorf("error reading body: %w", err)
	}
	return buffer.Bytes(), nil
}

// textOf renders a serialized scalar as text.
func textOf(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	}
	return fmt.Sprint(value)
}

func newJSONHandle(indent int8) *codec.JsonHandle {
	handle := &codec.JsonHandle{}
	handle.MapType = reflect.TypeOf(map[string]interface{}(nil))
	handle.SignedInteger = true
	handle.Canonical = true
	handle.HTMLCharsAsIs = true
	handle.Indent = indent
	return handle
}

// NewEngine returns an Engine with the default decoding and encoding chains.
func NewEngine() (*Engine, error) {
	engine := &Engine{
		jsonHandle:   newJSONHandle(0),
		prettyHandle: newJSONHandle(2),
	}

	if err := engine.AddJSONExtensions(defaultJSONExtensions); err != nil {
		return nil, xerrors.Errorf("error adding default json extensions: %w", err)
	}
	if err := engine.AddBSONCodecs(defaultBsonCodecs); err != nil {
		return nil, xerrors.Errorf("error adding default bson codecs: %w", err)
	}

	engine.AddDecoder(formDecoder{})
	engine.AddDecoder(&jsonLink{engine: engine})
	engine.AddDecoder(xmlDecoder{})
	engine.AddDecoder(yamlLink{})
	engine.AddDecoder(&bsonLink{engine: engine})
	engine.AddDecoder(textLink{})

	engine.AddEncoder(&jsonLink{engine: engine})
	engine.AddEncoder(xmlEncoder{})
	engine.AddEncoder(yamlLink{})
	engine.AddEncoder(&bsonLink{engine: engine})
	engine.AddEncoder(textLink{})

	return engine, nil
}
