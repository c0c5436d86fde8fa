package store

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/xerrors"
)

// Criteria maps lookup keys ("name", "group_id__in", "pk") to the value filtered on.
// A slice value on a plain key is treated like an "in" lookup.
type Criteria map[string]interface{}

// Operator is the comparison applied by a criteria key.
type Operator string

const (
	OpExact  = Operator("exact")
	OpIn     = Operator("in")
	OpIExact = Operator("iexact")
	OpIsNull = Operator("isnull")
)

const lookupSeparator = "__"

type noValue struct{}

func (noValue) String() string {
	return "<no value>"
}

// NoValue is put in place of a criteria value that could not be converted. A
// condition on NoValue matches no rows.
var NoValue interface{} = noValue{}

// IsNoValue reports whether value is the NoValue sentinel.
func IsNoValue(value interface{}) bool {
	_, ok := value.(noValue)
	return ok
}

// Condition is a parsed criteria entry.
type Condition struct {
	Field    *Field
	Operator Operator
	Value    interface{}
}

// Merge returns a new criteria holding the entries of all arguments, later ones
// winning.
func Merge(criteria ...Criteria) Criteria {
	merged := make(Criteria)
	for _, current := range criteria {
		for key, value := range current {
			merged[key] = value
		}
	}
	return merged
}

// Conditions parses criteria against model. Unknown fields or operators are errors.
func (criteria Criteria) Conditions(model *Model) ([]Condition, error) {
	conditions := make([]Condition, 0, len(criteria))

	for key, value := range criteria {
		name := key
		operator := OpExact
		if index := strings.LastIndex(key, lookupSeparator); index > 0 {
			name = key[:index]
			operator = Operator(key[index+len(lookupSeparator):])
		}

		if name == "pk" {
			name = model.PrimaryKey
		}

		field, ok := model.Field(name)
		if !ok {
			field, ok = model.FieldByColumn(name)
		}
		if !ok || field.Kind == ManyToMany {
			return nil, xerrors.Errorf("%s on %s: %w", key, model.Key(), ErrUnknownField)
		}

		switch operator {
		case OpExact, OpIExact, OpIsNull:
			if operator == OpExact && isSequence(value) {
				operator = OpIn
			}
		case OpIn:
		default:
			return nil, xerrors.Errorf("unsupported lookup %q on %s", key, model.Key())
		}

		conditions = append(conditions, Condition{
			Field:    field,
			Operator: operator,
			Value:    value,
		})
	}

	return conditions, nil
}

// Match reports whether instance satisfies every condition.
func Match(instance Instance, conditions []Condition) bool {
	for _, condition := range conditions {
		if !condition.matches(instance) {
			return false
		}
	}
	return true
}

func (condition Condition) matches(instance Instance) bool {
	if IsNoValue(condition.Value) {
		return false
	}

	actual, _ := instance.Value(condition.Field.Column)

	switch condition.Operator {
	case OpIn:
		for _, candidate := range Sequence(condition.Value) {
			if IsNoValue(candidate) {
				continue
			}
			if Equal(actual, candidate) {
				return true
			}
		}
		return false
	case OpIExact:
		return strings.EqualFold(fmt.Sprint(actual), fmt.Sprint(condition.Value))
	case OpIsNull:
		wantNull := condition.Value == true || fmt.Sprint(condition.Value) == "true"
		return (actual == nil) == wantNull
	default:
		return Equal(actual, condition.Value)
	}
}

// Equal compares a stored value with a filter value. Filters usually arrive as text,
// so values that print the same are equal.
func Equal(stored interface{}, wanted interface{}) bool {
	if stored == nil || wanted == nil {
		return stored == nil && wanted == nil
	}
	if reflect.DeepEqual(stored, wanted) {
		return true
	}
	return fmt.Sprint(stored) == fmt.Sprint(wanted)
}

// Sequence returns value as a slice if it is one, or wraps it otherwise.
func Sequence(value interface{}) []interface{} {
	if typed, ok := value.([]interface{}); ok {
		return typed
	}
	if !isSequence(value) {
		return []interface{}{value}
	}

	reflected := reflect.ValueOf(value)
	items := make([]interface{}, reflected.Len())
	for index := range items {
		items[index] = reflected.Index(index).Interface()
	}
	return items
}

func isSequence(value interface{}) bool {
	if value == nil {
		return false
	}
	kind := reflect.TypeOf(value).Kind()
	if kind == reflect.Slice {
		_, isBytes := value.([]byte)
		return !isBytes
	}
	return kind == reflect.Array
}
