package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

type querySet struct {
	store    *Store
	model    *store.Model
	criteria store.Criteria
}

func (query *querySet) Model() *store.Model {
	return query.model
}

func (query *querySet) Filter(criteria store.Criteria) store.QuerySet {
	return &querySet{
		store:    query.store,
		model:    query.model,
		criteria: store.Merge(query.criteria, criteria),
	}
}

func (query *querySet) Get(ctx context.Context) (store.Instance, error) {
	found, err := query.Slice(ctx, 0, 2)
	if err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, store.ErrMultipleFound
	}
}

func (query *querySet) All(ctx context.Context) ([]store.Instance, error) {
	return query.Slice(ctx, 0, -1)
}

func (query *querySet) Count(ctx context.Context) (int, error) {
	builder, err := countQuery(query.model, query.criteria)
	if err != nil {
		return 0, err
	}
	sql, args, err := toSQL(builder)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := query.store.database.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, xerrors.Errorf("error counting %s: %w", query.model.Key(), err)
	}
	return int(count), nil
}

func (query *querySet) Slice(ctx context.Context, offset int, limit int) ([]store.Instance, error) {
	builder, err := query.sliceQuery(offset, limit)
	if err != nil {
		return nil, err
	}

	rows, err := query.store.query(ctx, builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := []store.Instance{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, xerrors.Errorf("error reading %s row: %w", query.model.Key(), err)
		}

		record := store.NewRecord(query.model, nil)
		for index, description := range rows.FieldDescriptions() {
			record.SetValue(description.Name, normalize(values[index]))
		}
		instances = append(instances, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("error reading %s rows: %w", query.model.Key(), err)
	}
	return instances, nil
}

func (query *querySet) sliceQuery(offset int, limit int) (sq.SelectBuilder, error) {
	builder, err := selectQuery(query.model, query.criteria)
	if err != nil {
		return builder, err
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	if limit >= 0 {
		builder = builder.Limit(uint64(limit))
	}
	return builder, nil
}

func (postgresStore *Store) query(ctx context.Context, builder sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := toSQL(builder)
	if err != nil {
		return nil, err
	}
	postgresStore.logger.DebugWith("Executing query", "sql", sql, "args", args)

	rows, err := postgresStore.database.Query(ctx, sql, args...)
	if err != nil {
		return nil, xerrors.Errorf("error executing query: %w", err)
	}
	return rows, nil
}

func (postgresStore *Store) exec(ctx context.Context, builder sq.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := toSQL(builder)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	postgresStore.logger.DebugWith("Executing statement", "sql", sql, "args", args)

	tag, err := postgresStore.database.Exec(ctx, sql, args...)
	if err != nil {
		return tag, xerrors.Errorf("error executing statement: %w", err)
	}
	return tag, nil
}

// normalize maps driver values onto the types the rest of the module works with.
func normalize(value interface{}) interface{} {
	switch typed := value.(type) {
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case float32:
		return float64(typed)
	case pgtype.Numeric:
		return numericToDecimal(typed)
	}
	return value
}

func numericToDecimal(numeric pgtype.Numeric) interface{} {
	if !numeric.Valid {
		return nil
	}
	text, err := numeric.Value()
	if err != nil {
		return nil
	}
	asString, ok := text.(string)
	if !ok {
		return text
	}
	decimal, err := primitive.ParseDecimal128(asString)
	if err != nil {
		return asString
	}
	return decimal
}
