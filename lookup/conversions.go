package lookup

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/illuscio-dev/spanrest-go/store"
)

// Conversion turns a raw parameter value into the value filtered on.
type Conversion func(value interface{}) (interface{}, error)

// Identity returns value unchanged.
func Identity(value interface{}) (interface{}, error) {
	return value, nil
}

// Int parses base 10 integers.
func Int(value interface{}) (interface{}, error) {
	switch typed := value.(type) {
	case int:
		return int64(typed), nil
	case int64:
		return typed, nil
	}
	return strconv.ParseInt(strings.TrimSpace(toString(value)), 10, 64)
}

/*
SmartBool coerces loosely typed values to booleans:

• booleans are returned as is

• strings are true unless empty, "0" or case-insensitively "false"

• numbers are true unless zero

• anything else, nil included, is false
*/
func SmartBool(value interface{}) (interface{}, error) {
	return smartBool(value), nil
}

func smartBool(value interface{}) bool {
	if value == nil {
		return false
	}

	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed != "" && typed != "0" && !strings.EqualFold(typed, "false")
	}

	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflected.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflected.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return reflected.Float() != 0
	}
	return false
}

/*
ModelType resolves model references against registry. "app.model" is looked up by
its dotted key; a bare "model" resolves to the first registered model of that name,
so a name shared by two apps always picks the one registered first.

Unknown references convert to store.NoValue rather than failing.
*/
func ModelType(registry *store.Registry) Conversion {
	return func(value interface{}) (interface{}, error) {
		reference := strings.TrimSpace(toString(value))

		if strings.Contains(reference, ".") {
			model, ok := registry.Get(reference)
			if !ok {
				return store.NoValue, nil
			}
			return model, nil
		}

		candidates := registry.ByName(reference)
		if len(candidates) == 0 {
			return store.NoValue, nil
		}
		return candidates[0], nil
	}
}

func toString(value interface{}) string {
	if text, ok := value.(string); ok {
		return text
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
