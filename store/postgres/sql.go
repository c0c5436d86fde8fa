package postgres

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// nothing matches a criterion whose value could not be converted
var matchNothing = sq.Expr("1 = 0")

// columns returns the stored (non many-to-many) columns of model in declaration order.
func columns(model *store.Model) []string {
	var names []string
	for _, field := range model.Fields {
		if field.Kind == store.ManyToMany {
			continue
		}
		names = append(names, field.Column)
	}
	return names
}

// whereClause turns criteria into a squirrel condition. Values are coerced to the field
// type first; values that cannot be coerced match nothing.
func whereClause(model *store.Model, criteria store.Criteria) (sq.And, error) {
	conditions, err := criteria.Conditions(model)
	if err != nil {
		return nil, err
	}

	// map iteration order is random, keep the generated SQL stable
	sort.Slice(conditions, func(i, j int) bool {
		if conditions[i].Field.Column == conditions[j].Field.Column {
			return conditions[i].Operator < conditions[j].Operator
		}
		return conditions[i].Field.Column < conditions[j].Field.Column
	})

	clause := sq.And{}
	for _, condition := range conditions {
		clause = append(clause, conditionClause(condition))
	}
	return clause, nil
}

func conditionClause(condition store.Condition) sq.Sqlizer {
	column := condition.Field.Column
	if store.IsNoValue(condition.Value) {
		return matchNothing
	}

	switch condition.Operator {
	case store.OpIn:
		var values []interface{}
		for _, candidate := range store.Sequence(condition.Value) {
			prepared, ok := prepare(condition.Field, candidate)
			if ok {
				values = append(values, prepared)
			}
		}
		if len(values) == 0 {
			return matchNothing
		}
		return sq.Eq{column: values}
	case store.OpIExact:
		return sq.Expr(
			fmt.Sprintf("LOWER(CAST(%s AS TEXT)) = LOWER(?)", column),
			fmt.Sprint(condition.Value),
		)
	case store.OpIsNull:
		if condition.Value == true || fmt.Sprint(condition.Value) == "true" {
			return sq.Eq{column: nil}
		}
		return sq.NotEq{column: nil}
	default:
		prepared, ok := prepare(condition.Field, condition.Value)
		if !ok {
			return matchNothing
		}
		return sq.Eq{column: prepared}
	}
}

func prepare(field *store.Field, value interface{}) (interface{}, bool) {
	if store.IsNoValue(value) {
		return nil, false
	}
	prepared, err := field.Prepare(value)
	if err != nil {
		return nil, false
	}
	return prepared, true
}

func filtered(
	query sq.SelectBuilder, model *store.Model, criteria store.Criteria,
) (sq.SelectBuilder, error) {
	where, err := whereClause(model, criteria)
	if err != nil {
		return query, err
	}
	if len(where) > 0 {
		query = query.Where(where)
	}
	return query, nil
}

func selectQuery(model *store.Model, criteria store.Criteria) (sq.SelectBuilder, error) {
	query := psql.
		Select(columns(model)...).
		From(model.Table).
		OrderBy(model.PrimaryKeyField().Column)
	return filtered(query, model, criteria)
}

func countQuery(model *store.Model, criteria store.Criteria) (sq.SelectBuilder, error) {
	return filtered(psql.Select("COUNT(*)").From(model.Table), model, criteria)
}

// storedValues returns the column values of instance that are written on save, in
// column order. The primary key is left out when unset.
func storedValues(model *store.Model, instance store.Instance) ([]string, []interface{}) {
	var names []string
	var values []interface{}
	pkColumn := model.PrimaryKeyField().Column

	for _, column := range columns(model) {
		value, ok := instance.Value(column)
		if !ok {
			continue
		}
		if column == pkColumn && value == nil {
			continue
		}
		names = append(names, column)
		values = append(values, value)
	}
	return names, values
}

func insertQuery(model *store.Model, instance store.Instance) (string, []interface{}, error) {
	pkColumn := model.PrimaryKeyField().Column
	names, values := storedValues(model, instance)
	if len(names) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", model.Table, pkColumn),
			nil,
			nil
	}
	return toSQL(
		psql.Insert(model.Table).
			Columns(names...).
			Values(values...).
			Suffix("RETURNING " + pkColumn),
	)
}

func updateQuery(model *store.Model, instance store.Instance) (sq.UpdateBuilder, bool) {
	names, values := storedValues(model, instance)
	pkColumn := model.PrimaryKeyField().Column

	query := psql.Update(model.Table).Where(sq.Eq{pkColumn: instance.PK()})
	updates := 0
	for index, name := range names {
		if name == pkColumn {
			continue
		}
		query = query.Set(name, values[index])
		updates++
	}
	return query, updates > 0
}

func deleteQuery(model *store.Model, pk interface{}) sq.DeleteBuilder {
	return psql.Delete(model.Table).Where(sq.Eq{model.PrimaryKeyField().Column: pk})
}

// through fills in the join table conventions of a many-to-many field.
func through(owner *store.Model, field *store.Field, related *store.Model) store.Through {
	join := field.Through
	if join.Table == "" {
		join.Table = owner.Table + "_" + field.Name
	}
	if join.OwnerColumn == "" {
		join.OwnerColumn = owner.Name + "_id"
	}
	if join.MemberColumn == "" {
		join.MemberColumn = related.Name + "_id"
	}
	return join
}

func toSQL(builder sq.Sqlizer) (string, []interface{}, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, xerrors.Errorf("error building query: %w", err)
	}
	return query, args, nil
}
