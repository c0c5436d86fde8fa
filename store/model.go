package store

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"
)

// FieldKind tells direct columns apart from relations.
type FieldKind int

const (
	Direct FieldKind = iota
	ForeignKey
	ManyToMany
)

// FieldType drives value coercion when an instance is saved.
type FieldType string

const (
	TypeAny      = FieldType("")
	TypeString   = FieldType("string")
	TypeInteger  = FieldType("integer")
	TypeFloat    = FieldType("float")
	TypeBoolean  = FieldType("boolean")
	TypeDecimal  = FieldType("decimal")
	TypeDateTime = FieldType("datetime")
)

// Layouts accepted when coercing text into a datetime field.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Through describes the join table backing a many-to-many field.
type Through struct {
	Table        string `yaml:"table"`
	OwnerColumn  string `yaml:"owner"`
	MemberColumn string `yaml:"member"`
}

// Field describes one attribute or relation of a model.
type Field struct {
	// Name the field is requested and assigned by.
	Name string
	// Column holding the value. Foreign keys default to Name + "_id".
	Column string
	Kind   FieldKind
	Type   FieldType
	// Registry key ("app.model") of the related model for relations.
	Related  string
	Through  Through
	Nullable bool
}

// Attribute computes a derived value from an instance. It may return a zero argument
// callable, which the serializer invokes.
type Attribute func(instance Instance) (interface{}, error)

// Model is the metadata of a persisted type. Models are registered once at startup
// and are read-only afterwards.
type Model struct {
	App  string
	Name string
	// Backing table for SQL stores. Defaults to App + "_" + Name.
	Table string
	// Name of the primary key field. Defaults to "id".
	PrimaryKey string
	// Fields composing the natural key, in order.
	NaturalKey []string
	Fields     []*Field
	// Derived attributes, looked up by name when a requested field is not a model
	// field.
	Derived map[string]Attribute
}

// Key is the dotted natural key of the model itself.
func (model *Model) Key() string {
	return model.App + "." + model.Name
}

func (model *Model) String() string {
	return model.Key()
}

// Field returns the field with the given name.
func (model *Model) Field(name string) (*Field, bool) {
	for _, field := range model.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return nil, false
}

// FieldByColumn returns the field stored in the given column.
func (model *Model) FieldByColumn(column string) (*Field, bool) {
	for _, field := range model.Fields {
		if field.Column == column {
			return field, true
		}
	}
	return nil, false
}

// PrimaryKeyField returns the primary key field.
func (model *Model) PrimaryKeyField() *Field {
	field, _ := model.Field(model.PrimaryKey)
	return field
}

// HasNaturalKey tells whether instances can be looked up by natural key.
func (model *Model) HasNaturalKey() bool {
	return len(model.NaturalKey) > 0
}

// setDefaults fills in the conventional defaults and validates the field list.
func (model *Model) setDefaults() error {
	if model.App == "" || model.Name == "" {
		return xerrors.New("model must have an app and a name")
	}
	if model.Table == "" {
		model.Table = model.App + "_" + model.Name
	}
	if model.PrimaryKey == "" {
		model.PrimaryKey = "id"
	}
	if _, ok := model.Field(model.PrimaryKey); !ok {
		pkField := &Field{Name: model.PrimaryKey, Type: TypeInteger}
		model.Fields = append([]*Field{pkField}, model.Fields...)
	}

	seen := make(map[string]bool)
	for _, field := range model.Fields {
		if field.Name == "" {
			return xerrors.Errorf("model %s has a field without a name", model.Key())
		}
		if seen[field.Name] {
			return xerrors.Errorf("model %s declares field %s twice", model.Key(), field.Name)
		}
		seen[field.Name] = true

		if field.Kind != Direct && field.Related == "" {
			return xerrors.Errorf(
				"relation %s.%s does not name a related model", model.Key(), field.Name,
			)
		}
		if field.Column == "" {
			switch field.Kind {
			case ForeignKey:
				field.Column = field.Name + "_id"
			case ManyToMany:
				field.Column = field.Name
			default:
				field.Column = field.Name
			}
		}
	}

	for _, name := range model.NaturalKey {
		if _, ok := model.Field(name); !ok {
			return xerrors.Errorf(
				"natural key of %s references unknown field %s", model.Key(), name,
			)
		}
	}

	return nil
}

// Prepare coerces every direct value of the instance to the declared field types.
// Stores call it before persisting.
func (model *Model) Prepare(instance Instance) error {
	for _, field := range model.Fields {
		if field.Kind == ManyToMany {
			continue
		}
		value, ok := instance.Value(field.Column)
		if !ok {
			continue
		}
		prepared, err := field.Prepare(value)
		if err != nil {
			return err
		}
		instance.SetValue(field.Column, prepared)
	}
	return nil
}

// Prepare coerces a single value to the field type.
func (field *Field) Prepare(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	fieldType := field.Type
	if field.Kind == ForeignKey {
		fieldType = TypeAny
	}

	var prepared interface{}
	var err error

	switch fieldType {
	case TypeString:
		prepared = fmt.Sprint(value)
	case TypeInteger:
		prepared, err = toInteger(value)
	case TypeFloat:
		prepared, err = toFloat(value)
	case TypeBoolean:
		prepared, err = toBoolean(value)
	case TypeDecimal:
		prepared, err = toDecimal(value)
	case TypeDateTime:
		prepared, err = toDateTime(value)
	default:
		prepared = value
	}

	if err != nil {
		return nil, xerrors.Errorf("invalid value for field %s: %w", field.Name, err)
	}
	return prepared, nil
}

func toInteger(value interface{}) (int64, error) {
	switch typed := value.(type) {
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint64:
		if typed > math.MaxInt64 {
			return 0, xerrors.Errorf("%d overflows a 64 bit integer", typed)
		}
		return int64(typed), nil
	case float64:
		// 2^63 is exactly representable, MaxInt64 is not
		if !(typed >= math.MinInt64 && typed < -math.MinInt64) {
			return 0, xerrors.Errorf("%v is out of the 64 bit integer range", typed)
		}
		if typed != math.Trunc(typed) {
			return 0, xerrors.Errorf("%v is not a whole number", typed)
		}
		return int64(typed), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
	}
	return 0, xerrors.Errorf("cannot convert %T to integer", value)
}

func toFloat(value interface{}) (float64, error) {
	switch typed := value.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(typed), 64)
	}
	return 0, xerrors.Errorf("cannot convert %T to float", value)
}

func toBoolean(value interface{}) (bool, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case int:
		return typed != 0, nil
	case int64:
		return typed != 0, nil
	case float64:
		return typed != 0, nil
	case string:
		if strings.EqualFold(typed, "on") {
			return true, nil
		}
		if typed == "" {
			return false, nil
		}
		return strconv.ParseBool(typed)
	}
	return false, xerrors.Errorf("cannot convert %T to boolean", value)
}

func toDecimal(value interface{}) (primitive.Decimal128, error) {
	switch typed := value.(type) {
	case primitive.Decimal128:
		return typed, nil
	case string:
		return primitive.ParseDecimal128(strings.TrimSpace(typed))
	case int:
		return primitive.ParseDecimal128(strconv.Itoa(typed))
	case int64:
		return primitive.ParseDecimal128(strconv.FormatInt(typed, 10))
	case float64:
		return primitive.ParseDecimal128(strconv.FormatFloat(typed, 'f', -1, 64))
	case *big.Rat:
		return primitive.ParseDecimal128(typed.FloatString(10))
	}
	return primitive.Decimal128{}, xerrors.Errorf("cannot convert %T to decimal", value)
}

func toDateTime(value interface{}) (time.Time, error) {
	switch typed := value.(type) {
	case time.Time:
		return typed, nil
	case string:
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.Parse(layout, typed); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, xerrors.Errorf("%q is not a known datetime layout", typed)
	}
	return time.Time{}, xerrors.Errorf("cannot convert %T to datetime", value)
}
