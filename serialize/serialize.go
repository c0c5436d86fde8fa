/*
Serialization of in-memory values into plain nested data.

Serialize turns any value into a tree made only of strings, numbers, booleans, nil,
[]interface{} and map[string]interface{}, which every encoder in the encoding package
can render. Values are dispatched on the first rule that matches, in order:

• *spantypes.Response values are returned unchanged

• mappings (any map, or a Mapper) are serialized entry by entry

• text, BinData, UUIDs and other identifiers become strings

• store.Instance values are projected through their fieldset

• decimals become their exact decimal text

• slices and arrays become []interface{}

• functions without arguments are called and their result serialized

• managers exposing All(ctx) are materialized

• everything else is passed through (nil, booleans, numbers), formatted (time.Time)
or printed with fmt.Sprint
*/
package serialize

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/nuclio/logger"
	uuid "github.com/satori/go.uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/spantypes"
	"github.com/illuscio-dev/spanrest-go/store"
)

// DateTimeLayout is the layout time.Time values are rendered with.
const DateTimeLayout = "2006-01-02T15:04:05Z07:00"

// Mapper is implemented by values that serialize as a mapping.
type Mapper interface {
	ToMap() map[string]interface{}
}

// Manager is a collection that has to be materialized before it is serialized, such as
// a store.QuerySet.
type Manager interface {
	All(ctx context.Context) ([]store.Instance, error)
}

// IsPrebuiltResponse reports whether value is a response that must skip serialization
// and encoding.
func IsPrebuiltResponse(value interface{}) bool {
	_, ok := value.(*spantypes.Response)
	return ok
}

// Serializer serializes values, following model relations through its store.
type Serializer struct {
	logger logger.Logger
	store  store.Store
}

func NewSerializer(parentLogger logger.Logger, source store.Store) *Serializer {
	return &Serializer{
		logger: parentLogger.GetChild("serializer"),
		store:  source,
	}
}

// Serialize converts value using fields for every model instance it meets. Errors come
// from the store while relations are followed, or from invoked functions.
func (serializer *Serializer) Serialize(
	ctx context.Context, value interface{}, fields fieldset.Fields,
) (interface{}, error) {
	if value == nil || IsPrebuiltResponse(value) {
		return value, nil
	}

	// mapping
	if mapper, ok := value.(Mapper); ok {
		return serializer.serializeMap(ctx, mapper.ToMap(), fields)
	}
	if typed, ok := value.(map[string]interface{}); ok {
		return serializer.serializeMap(ctx, typed, fields)
	}
	if reflect.TypeOf(value).Kind() == reflect.Map {
		return serializer.serializeReflectedMap(ctx, reflect.ValueOf(value), fields)
	}

	// text
	if text, ok := textValue(value); ok {
		return text, nil
	}

	// model instance
	if instance, ok := value.(store.Instance); ok {
		return serializer.Project(ctx, instance, fields)
	}

	// decimal
	switch typed := value.(type) {
	case primitive.Decimal128:
		return typed.String(), nil
	case *big.Rat:
		return ratString(typed), nil
	}

	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Slice, reflect.Array:
		return serializer.serializeSequence(ctx, reflected, fields)
	case reflect.Func:
		return serializer.serializeCall(ctx, reflected, fields)
	}

	if manager, ok := value.(Manager); ok {
		instances, err := manager.All(ctx)
		if err != nil {
			return nil, xerrors.Errorf("error materializing collection: %w", err)
		}
		return serializer.Serialize(ctx, instances, fields)
	}

	return serializer.fallback(ctx, reflected, fields)
}

func (serializer *Serializer) serializeMap(
	ctx context.Context, mapping map[string]interface{}, fields fieldset.Fields,
) (interface{}, error) {
	serialized := make(map[string]interface{}, len(mapping))
	for key, value := range mapping {
		converted, err := serializer.Serialize(ctx, value, fields)
		if err != nil {
			return nil, err
		}
		serialized[key] = converted
	}
	return serialized, nil
}

func (serializer *Serializer) serializeReflectedMap(
	ctx context.Context, mapping reflect.Value, fields fieldset.Fields,
) (interface{}, error) {
	serialized := make(map[string]interface{}, mapping.Len())
	iterator := mapping.MapRange()
	for iterator.Next() {
		converted, err := serializer.Serialize(ctx, iterator.Value().Interface(), fields)
		if err != nil {
			return nil, err
		}
		serialized[fmt.Sprint(iterator.Key().Interface())] = converted
	}
	return serialized, nil
}

func (serializer *Serializer) serializeSequence(
	ctx context.Context, sequence reflect.Value, fields fieldset.Fields,
) (interface{}, error) {
	serialized := make([]interface{}, sequence.Len())
	for index := range serialized {
		converted, err := serializer.Serialize(ctx, sequence.Index(index).Interface(), fields)
		if err != nil {
			return nil, err
		}
		serialized[index] = converted
	}
	return serialized, nil
}

// serializeCall invokes functions taking no arguments. A trailing error result is
// returned as the error. Functions that need arguments serialize to nil.
func (serializer *Serializer) serializeCall(
	ctx context.Context, function reflect.Value, fields fieldset.Fields,
) (interface{}, error) {
	if function.IsNil() || function.Type().NumIn() != 0 {
		return nil, nil
	}

	results := function.Call(nil)
	if len(results) == 0 {
		return nil, nil
	}

	last := results[len(results)-1]
	if last.Type().Implements(errorType) {
		if !last.IsNil() {
			return nil, xerrors.Errorf(
				"error calling %s: %w", function.Type(), last.Interface().(error),
			)
		}
		results = results[:len(results)-1]
		if len(results) == 0 {
			return nil, nil
		}
	}
	return serializer.Serialize(ctx, results[0].Interface(), fields)
}

func (serializer *Serializer) fallback(
	ctx context.Context, reflected reflect.Value, fields fieldset.Fields,
) (interface{}, error) {
	value := reflected.Interface()

	switch typed := value.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed, nil
	case time.Time:
		return typed.Format(DateTimeLayout), nil
	case *time.Time:
		if typed == nil {
			return nil, nil
		}
		return typed.Format(DateTimeLayout), nil
	}

	if reflected.Kind() == reflect.Ptr {
		if reflected.IsNil() {
			return nil, nil
		}
		return serializer.Serialize(ctx, reflected.Elem().Interface(), fields)
	}

	// named scalar types serialize as their underlying value
	switch reflected.Kind() {
	case reflect.Bool:
		return reflected.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflected.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflected.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return reflected.Float(), nil
	}

	return fmt.Sprint(value), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// textValue handles the text rule: strings and the identifier types that travel as
// text.
func textValue(value interface{}) (string, bool) {
	switch typed := value.(type) {
	case string:
		return strings.ToValidUTF8(typed, "\uFFFD"), true
	case spantypes.BinData:
		return hex.EncodeToString(typed), true
	case []byte:
		return strings.ToValidUTF8(string(typed), "\uFFFD"), true
	case uuid.UUID:
		return typed.String(), true
	case primitive.ObjectID:
		return typed.Hex(), true
	case primitive.Binary:
		if typed.Subtype == 0x3 || typed.Subtype == 0x4 {
			if parsed, err := uuid.FromBytes(typed.Data); err == nil {
				return parsed.String(), true
			}
		}
		return hex.EncodeToString(typed.Data), true
	}

	reflected := reflect.ValueOf(value)
	if reflected.Kind() == reflect.String {
		return strings.ToValidUTF8(reflected.String(), "\uFFFD"), true
	}
	return "", false
}

// ratString renders r exactly when it has a finite decimal expansion, and with 30
// decimal places otherwise.
func ratString(rational *big.Rat) string {
	if rational.IsInt() {
		return rational.Num().String()
	}

	scaled := new(big.Rat).Set(rational)
	ten := big.NewRat(10, 1)
	for places := 1; places <= 30; places++ {
		scaled.Mul(scaled, ten)
		if scaled.IsInt() {
			return rational.FloatString(places)
		}
	}
	return rational.FloatString(30)
}
