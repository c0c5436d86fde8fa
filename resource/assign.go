package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/nuclio/logger"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

// FieldResult reports how one payload entry was applied.
type FieldResult struct {
	Field    string
	Resolved bool
	// Why the relation could not be resolved.
	Err error
}

// assigner applies decoded payloads to instances through a transaction store.
type assigner struct {
	logger logger.Logger
	tx     store.Store
}

func newAssigner(parentLogger logger.Logger, tx store.Store) *assigner {
	return &assigner{logger: parentLogger, tx: tx}
}

// assign sets the direct and foreign key fields found in payload, by name or by
// column. The primary key is never assigned. Relations that cannot be resolved are
// skipped and reported in the results; store failures other than a missing target
// are returned.
func (assigner *assigner) assign(
	ctx context.Context, instance store.Instance, payload map[string]interface{},
) ([]FieldResult, error) {
	model := instance.Model()
	var results []FieldResult

	for _, field := range model.Fields {
		if field.Kind == store.ManyToMany || field.Name == model.PrimaryKey {
			continue
		}

		for _, key := range payloadKeys(field) {
			value, ok := payload[key]
			if !ok {
				continue
			}

			if field.Kind == store.Direct {
				instance.SetValue(field.Column, value)
				results = append(results, FieldResult{Field: key, Resolved: true})
				continue
			}

			pk, err := assigner.resolve(ctx, field, value)
			if err != nil && !unresolvable(err) {
				return nil, xerrors.Errorf("error resolving %s.%s: %w", model.Key(), key, err)
			}
			if err != nil {
				assigner.logger.WarnWith("Failed to resolve relation",
					"model", model.Key(),
					"field", key,
					"err", err.Error())
				results = append(results, FieldResult{Field: key, Err: err})
				continue
			}

			instance.SetValue(field.Column, pk)
			results = append(results, FieldResult{Field: key, Resolved: true})
		}
	}

	return results, nil
}

func payloadKeys(field *store.Field) []string {
	if field.Column == field.Name {
		return []string{field.Name}
	}
	return []string{field.Name, field.Column}
}

// errUnresolvable marks relation values that name nothing.
var errUnresolvable = xerrors.New("relation value does not resolve to an instance")

func unresolvable(err error) bool {
	return xerrors.Is(err, errUnresolvable) ||
		xerrors.Is(err, store.ErrNotFound) ||
		xerrors.Is(err, store.ErrMultipleFound) ||
		xerrors.Is(err, store.ErrNoNaturalKey)
}

/*
resolve returns the primary key of the instance a foreign key value designates.
Accepted values, checked in order:

• a mapping holding the key under "id"

• nil, which clears nullable relations

• a dotted natural key string such as "books.author"

• a natural key sequence

• a primary key
*/
func (assigner *assigner) resolve(
	ctx context.Context, field *store.Field, value interface{},
) (interface{}, error) {
	related, err := assigner.tx.Registry().Related(field)
	if err != nil {
		return nil, err
	}

	if mapping, ok := value.(map[string]interface{}); ok {
		id, hasID := mapping["id"]
		if !hasID {
			return nil, xerrors.Errorf("mapping without id: %w", errUnresolvable)
		}
		value = id
	}

	if value == nil {
		if field.Nullable {
			return nil, nil
		}
		return nil, xerrors.Errorf("%s is not nullable: %w", field.Name, errUnresolvable)
	}

	var instance store.Instance
	switch typed := value.(type) {
	case string:
		if strings.Contains(typed, ".") && related.HasNaturalKey() {
			instance, err = store.GetByNaturalKey(
				ctx, assigner.tx, related, strings.Split(typed, "."),
			)
		} else {
			instance, err = store.GetByPK(ctx, assigner.tx, related, typed)
		}
	case []interface{}:
		instance, err = store.GetByNaturalKey(ctx, assigner.tx, related, textParts(typed))
	default:
		instance, err = store.GetByPK(ctx, assigner.tx, related, typed)
	}
	if err != nil {
		return nil, err
	}
	return instance.PK(), nil
}

func textParts(values []interface{}) []string {
	parts := make([]string, len(values))
	for index, value := range values {
		parts[index] = fmt.Sprint(value)
	}
	return parts
}

// reconcile replaces the membership of the many-to-many fields named in payload.
// Entries may be primary keys or mappings holding one under "id"; an empty list
// clears the relation.
func (assigner *assigner) reconcile(
	ctx context.Context, instance store.Instance, payload map[string]interface{},
) ([]FieldResult, error) {
	model := instance.Model()
	var results []FieldResult

	for _, field := range model.Fields {
		if field.Kind != store.ManyToMany {
			continue
		}
		value, ok := payload[field.Name]
		if !ok {
			continue
		}

		pks, err := memberKeys(value)
		if err == nil {
			if len(pks) == 0 {
				err = assigner.tx.ClearMembers(ctx, instance, field.Name)
			} else {
				err = assigner.tx.SetMembers(ctx, instance, field.Name, pks)
			}
		}

		if err != nil {
			assigner.logger.WarnWith("Failed to set members",
				"model", model.Key(),
				"field", field.Name,
				"err", err.Error())
			results = append(results, FieldResult{Field: field.Name, Err: err})
			continue
		}
		results = append(results, FieldResult{Field: field.Name, Resolved: true})
	}

	return results, nil
}

func memberKeys(value interface{}) ([]interface{}, error) {
	if value == nil || value == "" {
		return nil, nil
	}

	items := store.Sequence(value)
	pks := make([]interface{}, 0, len(items))
	for _, item := range items {
		if mapping, ok := item.(map[string]interface{}); ok {
			id, hasID := mapping["id"]
			if !hasID {
				return nil, xerrors.Errorf("member mapping without id: %w", errUnresolvable)
			}
			item = id
		}
		pks = append(pks, item)
	}
	return pks, nil
}
