package serialize

import (
	"context"
	"strings"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/store"
)

// Names of the pseudo fields that project an instance as its natural key.
const (
	NaturalKeyField       = "natural_key"
	DottedNaturalKeyField = "natural.key"
)

// Project serializes one model instance into a map keyed by field name.
//
// A selection made only of NaturalKeyField returns the natural key tuple instead, and
// one made only of DottedNaturalKeyField returns it joined with ".". An empty selection
// projects every direct and foreign key field. Many-to-many fields appear only when
// requested. Requested names the model does not define are looked up among its derived
// attributes; ones that cannot be resolved are logged and left out.
func (serializer *Serializer) Project(
	ctx context.Context, instance store.Instance, fields fieldset.Fields,
) (interface{}, error) {
	if fields.Only(NaturalKeyField) || fields.Only(DottedNaturalKeyField) {
		return serializer.naturalKey(instance, fields.Only(DottedNaturalKeyField)), nil
	}

	model := instance.Model()
	projected := make(map[string]interface{})

	if len(fields) == 0 {
		for _, field := range model.Fields {
			if field.Kind == store.ManyToMany {
				continue
			}
			value, _ := instance.Value(field.Column)
			converted, err := serializer.Serialize(ctx, value, nil)
			if err != nil {
				return nil, err
			}
			projected[field.Name] = converted
		}
		return projected, nil
	}

	for _, requested := range fields {
		field, ok := model.Field(requested.Name)
		if !ok {
			value, resolved := serializer.derived(ctx, instance, requested)
			if resolved {
				projected[requested.Name] = value
			}
			continue
		}

		value, err := serializer.projectField(ctx, instance, field, requested)
		if err != nil {
			return nil, xerrors.Errorf(
				"error projecting %s.%s: %w", model.Key(), field.Name, err,
			)
		}
		projected[requested.Name] = value
	}

	return projected, nil
}

func (serializer *Serializer) naturalKey(instance store.Instance, dotted bool) interface{} {
	key, err := instance.NaturalKey()
	if err != nil {
		serializer.logger.WarnWith(
			"Failed to build natural key",
			"model", instance.Model().Key(),
			"err", err.Error(),
		)
		return map[string]interface{}{}
	}

	if dotted {
		return strings.Join(key, ".")
	}

	tuple := make([]interface{}, len(key))
	for index, part := range key {
		tuple[index] = part
	}
	return tuple
}

func (serializer *Serializer) projectField(
	ctx context.Context, instance store.Instance, field *store.Field, requested fieldset.Field,
) (interface{}, error) {
	switch field.Kind {
	case store.ForeignKey:
		if !requested.Expand {
			value, _ := instance.Value(field.Column)
			return serializer.Serialize(ctx, value, nil)
		}
		related, err := store.Related(ctx, serializer.store, instance, field.Name)
		if err != nil {
			return nil, err
		}
		if related == nil {
			return nil, nil
		}
		return serializer.Serialize(ctx, related, requested.Nested)

	case store.ManyToMany:
		if instance.PK() == nil {
			return []interface{}{}, nil
		}
		members, err := serializer.store.Members(ctx, instance, field.Name)
		if err != nil {
			return nil, err
		}
		return serializer.Serialize(ctx, members, requested.Nested)

	default:
		value, _ := instance.Value(field.Column)
		return serializer.Serialize(ctx, value, requested.Nested)
	}
}

// derived resolves a requested name through the derived attributes of the model. The
// second return is false when the key must be left out.
func (serializer *Serializer) derived(
	ctx context.Context, instance store.Instance, requested fieldset.Field,
) (interface{}, bool) {
	model := instance.Model()

	attribute, ok := model.Derived[requested.Name]
	if !ok {
		serializer.logger.WarnWith(
			"Failed to resolve derived attribute",
			"field", requested.Name,
			"model", model.Key(),
			"err", "no such field or attribute",
		)
		return nil, false
	}

	value, err := attribute(instance)
	if err == nil {
		value, err = serializer.Serialize(ctx, value, requested.Nested)
	}
	if err != nil {
		serializer.logger.WarnWith(
			"Failed to resolve derived attribute",
			"field", requested.Name,
			"model", model.Key(),
			"err", err.Error(),
		)
		return nil, false
	}
	return value, true
}
