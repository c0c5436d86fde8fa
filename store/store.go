/*
Narrow interfaces to the model store consumed by resources, plus the model metadata they
are described with.

A Store hands out QuerySets, creates, saves and deletes Instances, and manages
many-to-many membership. Mutating work that must be applied as a whole runs inside
Store.Atomic.
*/
package store

import (
	"context"

	"golang.org/x/xerrors"
)

var (
	// ErrNotFound is returned by QuerySet.Get when nothing matches.
	ErrNotFound = xerrors.New("no instance found matching the query")
	// ErrMultipleFound is returned by QuerySet.Get when more than one row matches.
	ErrMultipleFound = xerrors.New("more than one instance found matching the query")
	// ErrUnknownField is returned when criteria reference a field the model lacks.
	ErrUnknownField = xerrors.New("unknown field")
	// ErrNoNaturalKey is returned for natural key operations on models without one.
	ErrNoNaturalKey = xerrors.New("model has no natural key")
	// ErrNotRelation is returned for relation operations on direct fields.
	ErrNotRelation = xerrors.New("field is not a relation")
)

// QuerySet is a lazy, filterable collection of instances of one model.
type QuerySet interface {
	Model() *Model
	// Filter returns a new QuerySet further restricted by criteria.
	Filter(criteria Criteria) QuerySet
	// Get returns the single matching instance, ErrNotFound or ErrMultipleFound.
	Get(ctx context.Context) (Instance, error)
	All(ctx context.Context) ([]Instance, error)
	Count(ctx context.Context) (int, error)
	// Slice returns at most limit instances starting at offset, in a stable order.
	Slice(ctx context.Context, offset int, limit int) ([]Instance, error)
}

// Store is the persistence collaborator.
type Store interface {
	Registry() *Registry
	QuerySet(model *Model) QuerySet
	// New returns a blank, unsaved instance.
	New(model *Model) Instance
	// Save inserts or updates the instance, assigning a primary key on insert.
	Save(ctx context.Context, instance Instance) error
	Delete(ctx context.Context, instance Instance) error
	// Members returns the instances related through a many-to-many field.
	Members(ctx context.Context, instance Instance, field string) ([]Instance, error)
	// SetMembers replaces the membership with the existing instances among pks.
	SetMembers(ctx context.Context, instance Instance, field string, pks []interface{}) error
	ClearMembers(ctx context.Context, instance Instance, field string) error
	// Atomic runs fn in a transaction. Everything fn did through tx is discarded
	// when it returns an error.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// GetByPK fetches the instance of model with the given primary key.
func GetByPK(ctx context.Context, source Store, model *Model, pk interface{}) (Instance, error) {
	return source.QuerySet(model).Filter(Criteria{model.PrimaryKey: pk}).Get(ctx)
}

// GetByNaturalKey fetches the instance of model with the given natural key tuple.
func GetByNaturalKey(
	ctx context.Context, source Store, model *Model, key []string,
) (Instance, error) {
	if !model.HasNaturalKey() {
		return nil, xerrors.Errorf("%s: %w", model.Key(), ErrNoNaturalKey)
	}
	if len(key) != len(model.NaturalKey) {
		return nil, xerrors.Errorf(
			"natural key of %s has %d parts, got %d: %w",
			model.Key(), len(model.NaturalKey), len(key), ErrNotFound,
		)
	}

	criteria := make(Criteria, len(key))
	for index, name := range model.NaturalKey {
		criteria[name] = key[index]
	}
	return source.QuerySet(model).Filter(criteria).Get(ctx)
}

// Related follows a foreign key. It returns nil without error when the key is unset.
func Related(ctx context.Context, source Store, instance Instance, name string) (Instance, error) {
	model := instance.Model()
	field, ok := model.Field(name)
	if !ok || field.Kind != ForeignKey {
		return nil, xerrors.Errorf("%s.%s: %w", model.Key(), name, ErrNotRelation)
	}

	pk, _ := instance.Value(field.Column)
	if pk == nil {
		return nil, nil
	}

	related, err := source.Registry().Related(field)
	if err != nil {
		return nil, err
	}
	return GetByPK(ctx, source, related, pk)
}
