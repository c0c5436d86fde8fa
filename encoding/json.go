package encoding

import (
	"io"
	"net/http"
	"reflect"

	uuid "github.com/satori/go.uuid"
	"github.com/ugorji/go/codec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// JSONExtensionOpts holds a codec extension to register on the JSON handles.
type JSONExtensionOpts struct {
	ValueType    reflect.Type
	ExtInterface codec.InterfaceExt
}

var defaultJSONExtensions = []*JSONExtensionOpts{
	{
		ValueType:    reflect.TypeOf(primitive.Binary{}),
		ExtInterface: &jsonExtBsonBinary{},
	},
	{
		ValueType:    reflect.TypeOf(spantypes.BinData{}),
		ExtInterface: &jsonExtBinData{},
	},
}

// Converts BSON binary fields to json. UUID subtypes become uuid text, generic binary
// becomes hex.
type jsonExtBsonBinary struct{}

func (ext *jsonExtBsonBinary) ConvertExt(value interface{}) interface{} {
	var valueBin primitive.Binary
	switch typed := value.(type) {
	case *primitive.Binary:
		valueBin = *typed
	case primitive.Binary:
		valueBin = typed
	}

	switch valueBin.Subtype {
	case 0x3, 0x4:
		valueUUID, err := uuid.FromBytes(valueBin.Data)
		if err != nil {
			panic(xerrors.Errorf("error converting bson uuid: %w", err))
		}
		return valueUUID.String()
	case 0x0:
		return hexString(valueBin.Data)
	}

	panic(xerrors.Errorf("unsupported bson binary subtype %#x", valueBin.Subtype))
}

func (ext *jsonExtBsonBinary) UpdateExt(dest interface{}, value interface{}) {
	panic(xerrors.New(
		"decoding to bson binary field not supported, use uuid or BinData instead",
	))
}

// Converts BinData to hex text and back.
type jsonExtBinData struct{}

func (ext *jsonExtBinData) ConvertExt(value interface{}) interface{} {
	switch typed := value.(type) {
	case *spantypes.BinData:
		return hexString(*typed)
	case spantypes.BinData:
		return hexString(typed)
	}
	panic(xerrors.Errorf("unexpected value %T for BinData extension", value))
}

func (ext *jsonExtBinData) UpdateExt(dest interface{}, value interface{}) {
	text, ok := value.(string)
	if !ok {
		panic(xerrors.Errorf("BinData must be decoded from hex text, got %T", value))
	}
	decoded, err := hexBytes(text)
	if err != nil {
		panic(xerrors.Errorf("error decoding BinData: %w", err))
	}
	*dest.(*spantypes.BinData) = decoded
}

// Converts BSON Raw document to json object.
type jsonExtBsonRaw struct {
	bsonRegistry *bsoncodec.Registry
}

func (ext *jsonExtBsonRaw) ConvertExt(value interface{}) interface{} {
	var valueRaw bson.Raw
	switch typed := value.(type) {
	case *bson.Raw:
		valueRaw = *typed
	case bson.Raw:
		valueRaw = typed
	}

	unmarshaled := make(map[string]interface{})
	if len(valueRaw) > 0 {
		err := bson.UnmarshalWithRegistry(ext.bsonRegistry, valueRaw, &unmarshaled)
		if err != nil {
			panic(xerrors.Errorf("error while unmarshalling bson for encoding: %w", err))
		}
	}
	return normalizeBson(unmarshaled)
}

func (ext *jsonExtBsonRaw) UpdateExt(dest interface{}, value interface{}) {
	panic(xerrors.New("decoding to bson raw field not supported"))
}

// jsonLink decodes JSON bodies into plain data and renders indented JSON responses
// with sorted keys.
type jsonLink struct {
	engine *Engine
}

func (link *jsonLink) Format() string {
	return "json"
}

func (link *jsonLink) MimeType() mimetype.MimeType {
	return mimetype.JSON
}

func (link *jsonLink) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.JSON {
		return nil, false, nil
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, true, xerrors.Errorf("error reading body: %w", err)
	}

	var payload interface{}
	decoder := codec.NewDecoderBytes(body, link.engine.jsonHandle)
	if err := decoder.Decode(&payload); err != nil {
		return nil, true, err
	}

	// the body must hold exactly one value
	var trailing interface{}
	switch err := decoder.Decode(&trailing); err {
	case io.EOF:
		return payload, true, nil
	case nil:
		return nil, true, xerrors.Errorf("unexpected data after the json value at byte %d", decoder.NumBytesRead())
	default:
		return nil, true, xerrors.Errorf("unexpected data after the json value: %w", err)
	}
}

func (link *jsonLink) TryEncode(
	format string, value interface{},
) (*spantypes.Response, bool, error) {
	if format != link.Format() {
		return nil, false, nil
	}

	var body []byte
	encoder := codec.NewEncoderBytes(&body, link.engine.prettyHandle)
	if err := encoder.Encode(value); err != nil {
		return nil, true, err
	}
	return spantypes.NewResponse(http.StatusOK, mimetype.JSON, body), true, nil
}
