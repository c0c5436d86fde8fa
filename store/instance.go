package store

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Instance is one row of a model as handed out by a Store.
type Instance interface {
	Model() *Model
	// PK returns the primary key value, nil for instances never saved.
	PK() interface{}
	// Value reads a column. The second return is false when the column is unset.
	Value(column string) (interface{}, bool)
	SetValue(column string, value interface{})
	// NaturalKey returns the natural key tuple as text.
	NaturalKey() ([]string, error)
}

// Record is the map backed Instance used by the bundled stores.
type Record struct {
	model  *Model
	values map[string]interface{}
}

// NewRecord creates a record of model holding a copy of values (keyed by column).
func NewRecord(model *Model, values map[string]interface{}) *Record {
	record := &Record{
		model:  model,
		values: make(map[string]interface{}, len(values)),
	}
	for column, value := range values {
		record.values[column] = value
	}
	return record
}

func (record *Record) Model() *Model {
	return record.model
}

func (record *Record) PK() interface{} {
	return record.values[record.model.PrimaryKeyField().Column]
}

func (record *Record) Value(column string) (interface{}, bool) {
	value, ok := record.values[column]
	return value, ok
}

func (record *Record) SetValue(column string, value interface{}) {
	record.values[column] = value
}

func (record *Record) NaturalKey() ([]string, error) {
	if !record.model.HasNaturalKey() {
		return nil, xerrors.Errorf("%s: %w", record.model.Key(), ErrNoNaturalKey)
	}

	key := make([]string, len(record.model.NaturalKey))
	for index, name := range record.model.NaturalKey {
		field, _ := record.model.Field(name)
		key[index] = fmt.Sprint(record.values[field.Column])
	}
	return key, nil
}

// Values returns a copy of the column values.
func (record *Record) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(record.values))
	for column, value := range record.values {
		values[column] = value
	}
	return values
}

// Clone returns an independent copy of the record.
func (record *Record) Clone() *Record {
	return NewRecord(record.model, record.values)
}
