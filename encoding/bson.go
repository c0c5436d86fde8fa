package encoding

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"reflect"

	uuid "github.com/satori/go.uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// BsonListSepString is a delimiter for top-level bson lists, which bson does not
// normally support. When multiple documents are sent in a single payload, the unicode
// SYMBOL FOR RECORD SEPARATOR is used.
// (http://fileformat.info/info/unicode/char/241e/index.htm)
const BsonListSepString = "\u241E"

// BsonListSepBytes is a byte representation of BsonListSepString.
var BsonListSepBytes = []byte(BsonListSepString)

// BsonScalarKey wraps values that are not documents so they can travel as bson.
const BsonScalarKey = "response"

// split function used to separate the bson records.
func splitBsonFunc(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, BsonListSepBytes); i >= 0 {
		return i + len(BsonListSepBytes), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	// request more data
	return 0, nil, nil
}

// BsonCodecOpts holds a codec to register for a type on the bson registry.
type BsonCodecOpts struct {
	ValueType reflect.Type
	Codec     bsoncodec.ValueCodec
}

var defaultBsonCodecs = []*BsonCodecOpts{
	{
		ValueType: reflect.TypeOf(uuid.UUID{}),
		Codec:     bsonCodecUUID{},
	},
}

// bsonCodecUUID writes UUIDs as binary subtype 0x4 and reads subtypes 0x3 and 0x4.
type bsonCodecUUID struct{}

func (codec bsonCodecUUID) EncodeValue(
	encodeCTX bsoncodec.EncodeContext,
	valueWriter bsonrw.ValueWriter,
	value reflect.Value,
) error {
	valueUUID, ok := value.Interface().(uuid.UUID)
	if !ok {
		return xerrors.Errorf("cannot encode %s as uuid", value.Type())
	}
	return valueWriter.WriteBinaryWithSubtype(valueUUID.Bytes(), 0x4)
}

func (codec bsonCodecUUID) DecodeValue(
	decodeCTX bsoncodec.DecodeContext,
	valueReader bsonrw.ValueReader,
	value reflect.Value,
) error {
	bytesUUID, subtype, err := valueReader.ReadBinary()
	if err != nil {
		return err
	}
	if subtype != 0x3 && subtype != 0x4 {
		return xerrors.Errorf("binary subtype %#x is not a uuid", subtype)
	}

	uuidVal, err := uuid.FromBytes(bytesUUID)
	if err != nil {
		return err
	}
	value.Set(reflect.ValueOf(uuidVal))
	return nil
}

// bsonLink reads and writes bson documents. Sequences travel as documents separated by
// BsonListSepString, and values that are not documents are wrapped under
// BsonScalarKey.
type bsonLink struct {
	engine *Engine
}

func (link *bsonLink) Format() string {
	return "bson"
}

func (link *bsonLink) MimeType() mimetype.MimeType {
	return mimetype.BSON
}

func (link *bsonLink) encodeSingle(writer io.Writer, content interface{}) error {
	if _, isDocument := content.(map[string]interface{}); !isDocument {
		content = map[string]interface{}{BsonScalarKey: content}
	}

	marshalled, err := bson.MarshalWithRegistry(link.engine.bsonRegistry, content)
	if err != nil {
		return err
	}
	_, err = writer.Write(marshalled)
	return err
}

func (link *bsonLink) encodeMany(writer io.Writer, content []interface{}) error {
	finalIndex := len(content) - 1

	for index, item := range content {
		if err := link.encodeSingle(writer, item); err != nil {
			return err
		}
		if index != finalIndex {
			if _, err := writer.Write(BsonListSepBytes); err != nil {
				return xerrors.Errorf("error writing document separator: %w", err)
			}
		}
	}
	return nil
}

func (link *bsonLink) TryEncode(
	format string, value interface{},
) (*spantypes.Response, bool, error) {
	if format != link.Format() {
		return nil, false, nil
	}

	body := bytes.Buffer{}
	var err error
	if sequence, ok := value.([]interface{}); ok {
		err = link.encodeMany(&body, sequence)
	} else {
		err = link.encodeSingle(&body, value)
	}
	if err != nil {
		return nil, true, err
	}
	return spantypes.NewResponse(http.StatusOK, mimetype.BSON, body.Bytes()), true, nil
}

func (link *bsonLink) decodeSingle(document []byte) (map[string]interface{}, error) {
	decoded := make(map[string]interface{})
	err := bson.UnmarshalWithRegistry(link.engine.bsonRegistry, document, &decoded)
	if err != nil {
		return nil, err
	}
	return normalizeBson(decoded).(map[string]interface{}), nil
}

// TryDecode returns a mapping for a single document and a []interface{} of mappings
// when the body holds several.
func (link *bsonLink) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.BSON {
		return nil, false, nil
	}

	var documents []interface{}
	docScanner := bufio.NewScanner(reader)
	docScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	docScanner.Split(splitBsonFunc)

	for docScanner.Scan() {
		document, err := link.decodeSingle(docScanner.Bytes())
		if err != nil {
			return nil, true, err
		}
		documents = append(documents, document)
	}
	if err := docScanner.Err(); err != nil {
		return nil, true, err
	}

	switch len(documents) {
	case 0:
		return nil, true, xerrors.New("no bson document in body")
	case 1:
		return documents[0], true, nil
	}
	return documents, true, nil
}

// normalizeBson turns driver document and array types into plain maps and slices.
func normalizeBson(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		normalized := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			normalized[key] = normalizeBson(item)
		}
		return normalized
	case primitive.M:
		return normalizeBson(map[string]interface{}(typed))
	case primitive.D:
		normalized := make(map[string]interface{}, len(typed))
		for _, element := range typed {
			normalized[element.Key] = normalizeBson(element.Value)
		}
		return normalized
	case primitive.A:
		return normalizeBson([]interface{}(typed))
	case []interface{}:
		normalized := make([]interface{}, len(typed))
		for index, item := range typed {
			normalized[index] = normalizeBson(item)
		}
		return normalized
	}
	return value
}
