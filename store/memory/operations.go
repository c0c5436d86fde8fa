package memory

import (
	"context"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

// operations implements store.Store on top of an accessor.
type operations struct {
	access   accessor
	registry *store.Registry
}

func (ops operations) Registry() *store.Registry {
	return ops.registry
}

func (ops operations) QuerySet(model *store.Model) store.QuerySet {
	return &querySet{
		access:   ops.access,
		model:    model,
		criteria: store.Criteria{},
	}
}

func (ops operations) New(model *store.Model) store.Instance {
	return store.NewRecord(model, nil)
}

func (ops operations) Save(ctx context.Context, instance store.Instance) error {
	model := instance.Model()

	values := make(map[string]interface{})
	for _, field := range model.Fields {
		if field.Kind == store.ManyToMany {
			continue
		}
		if value, ok := instance.Value(field.Column); ok {
			values[field.Column] = value
		}
	}
	record := store.NewRecord(model, values)
	if err := model.Prepare(record); err != nil {
		return err
	}

	return ops.access.write(func(current *state) error {
		rows := current.table(model)
		pkColumn := model.PrimaryKeyField().Column

		pk := record.PK()
		if pk == nil {
			rows.nextID++
			pk = rows.nextID
			record.SetValue(pkColumn, pk)
		} else if numeric, err := strconv.ParseInt(pkKey(pk), 10, 64); err == nil {
			if numeric > rows.nextID {
				rows.nextID = numeric
			}
		}

		key := pkKey(pk)
		if _, exists := rows.rows[key]; !exists {
			rows.order = append(rows.order, key)
		}
		rows.rows[key] = record

		// reflect coerced values and the assigned key back on the caller's instance
		for column, value := range record.Values() {
			instance.SetValue(column, value)
		}
		return nil
	})
}

func (ops operations) Delete(ctx context.Context, instance store.Instance) error {
	model := instance.Model()
	key := pkKey(instance.PK())

	return ops.access.write(func(current *state) error {
		rows := current.table(model)
		if _, exists := rows.rows[key]; !exists {
			return xerrors.Errorf("delete %s %s: %w", model.Key(), key, store.ErrNotFound)
		}

		delete(rows.rows, key)
		for index, ordered := range rows.order {
			if ordered == key {
				rows.order = append(rows.order[:index], rows.order[index+1:]...)
				break
			}
		}

		for _, field := range model.Fields {
			if field.Kind == store.ManyToMany {
				delete(current.members[membersKey(model, field)], key)
			}
		}
		return nil
	})
}

func (ops operations) manyToMany(
	instance store.Instance, name string,
) (*store.Field, *store.Model, error) {
	model := instance.Model()
	field, ok := model.Field(name)
	if !ok || field.Kind != store.ManyToMany {
		return nil, nil, xerrors.Errorf("%s.%s: %w", model.Key(), name, store.ErrNotRelation)
	}
	related, err := ops.registry.Related(field)
	if err != nil {
		return nil, nil, err
	}
	return field, related, nil
}

func (ops operations) Members(
	ctx context.Context, instance store.Instance, name string,
) ([]store.Instance, error) {
	field, related, err := ops.manyToMany(instance, name)
	if err != nil {
		return nil, err
	}

	var members []store.Instance
	err = ops.access.read(func(current *state) error {
		rows := current.peek(related)
		for _, pk := range current.members[membersKey(instance.Model(), field)][pkKey(instance.PK())] {
			if record, ok := rows.rows[pkKey(pk)]; ok {
				members = append(members, record.Clone())
			}
		}
		return nil
	})
	return members, err
}

func (ops operations) SetMembers(
	ctx context.Context, instance store.Instance, name string, pks []interface{},
) error {
	field, related, err := ops.manyToMany(instance, name)
	if err != nil {
		return err
	}
	if instance.PK() == nil {
		return xerrors.Errorf("cannot set %s on an unsaved %s", name, instance.Model().Key())
	}

	return ops.access.write(func(current *state) error {
		rows := current.table(related)

		existing := make([]interface{}, 0, len(pks))
		seen := make(map[string]bool)
		for _, pk := range pks {
			record, ok := rows.rows[pkKey(pk)]
			if !ok || seen[pkKey(pk)] {
				continue
			}
			seen[pkKey(pk)] = true
			existing = append(existing, record.PK())
		}

		key := membersKey(instance.Model(), field)
		if current.members[key] == nil {
			current.members[key] = make(map[string][]interface{})
		}
		current.members[key][pkKey(instance.PK())] = existing
		return nil
	})
}

func (ops operations) ClearMembers(ctx context.Context, instance store.Instance, name string) error {
	field, _, err := ops.manyToMany(instance, name)
	if err != nil {
		return err
	}

	return ops.access.write(func(current *state) error {
		delete(current.members[membersKey(instance.Model(), field)], pkKey(instance.PK()))
		return nil
	})
}
