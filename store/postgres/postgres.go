/*
PostgreSQL implementation of store.Store built on pgx and squirrel.

Every model maps onto its Table with one column per direct field or foreign key.
Many-to-many fields live in join tables (see store.Through). Rows come back as
store.Records; NUMERIC values are read into primitive.Decimal128 so that they keep
their exact text.
*/
package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nuclio/logger"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

// Database is the part of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Database interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a store.Store backed by a PostgreSQL database.
type Store struct {
	logger   logger.Logger
	registry *store.Registry
	database Database
}

// Connect opens a connection pool for dsn and checks it is reachable.
func Connect(ctx context.Context, parentLogger logger.Logger, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Errorf("error creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("error reaching postgres: %w", err)
	}

	parentLogger.DebugWith("Connected to postgres", "maxConns", pool.Config().MaxConns)
	return pool, nil
}

// NewStore creates a store over database for the models of registry.
func NewStore(parentLogger logger.Logger, registry *store.Registry, database Database) *Store {
	return &Store{
		logger:   parentLogger.GetChild("postgres"),
		registry: registry,
		database: database,
	}
}

func (postgresStore *Store) Registry() *store.Registry {
	return postgresStore.registry
}

func (postgresStore *Store) QuerySet(model *store.Model) store.QuerySet {
	return &querySet{
		store:    postgresStore,
		model:    model,
		criteria: store.Criteria{},
	}
}

func (postgresStore *Store) New(model *store.Model) store.Instance {
	return store.NewRecord(model, nil)
}

func (postgresStore *Store) Save(ctx context.Context, instance store.Instance) error {
	model := instance.Model()
	if err := model.Prepare(instance); err != nil {
		return err
	}

	if instance.PK() != nil {
		query, hasUpdates := updateQuery(model, instance)
		if hasUpdates {
			tag, err := postgresStore.exec(ctx, query)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				return nil
			}
		} else {
			// nothing to update, but the row must exist
			if _, err := store.GetByPK(ctx, postgresStore, model, instance.PK()); err == nil {
				return nil
			}
		}
	}

	sql, args, err := insertQuery(model, instance)
	if err != nil {
		return err
	}
	postgresStore.logger.DebugWith("Executing insert", "sql", sql, "args", args)

	var pk interface{}
	if err := postgresStore.database.QueryRow(ctx, sql, args...).Scan(&pk); err != nil {
		return xerrors.Errorf("error inserting %s: %w", model.Key(), err)
	}
	instance.SetValue(model.PrimaryKeyField().Column, normalize(pk))
	return nil
}

func (postgresStore *Store) Delete(ctx context.Context, instance store.Instance) error {
	model := instance.Model()
	tag, err := postgresStore.exec(ctx, deleteQuery(model, instance.PK()))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.Errorf("delete %s %v: %w", model.Key(), instance.PK(), store.ErrNotFound)
	}
	return nil
}

func (postgresStore *Store) manyToMany(
	instance store.Instance, name string,
) (store.Through, *store.Model, error) {
	model := instance.Model()
	field, ok := model.Field(name)
	if !ok || field.Kind != store.ManyToMany {
		return store.Through{}, nil, xerrors.Errorf(
			"%s.%s: %w", model.Key(), name, store.ErrNotRelation,
		)
	}
	related, err := postgresStore.registry.Related(field)
	if err != nil {
		return store.Through{}, nil, err
	}
	return through(model, field, related), related, nil
}

func (postgresStore *Store) Members(
	ctx context.Context, instance store.Instance, name string,
) ([]store.Instance, error) {
	join, related, err := postgresStore.manyToMany(instance, name)
	if err != nil {
		return nil, err
	}

	pks, err := postgresStore.memberKeys(ctx, join, instance.PK())
	if err != nil {
		return nil, err
	}
	if len(pks) == 0 {
		return nil, nil
	}
	return postgresStore.QuerySet(related).Filter(store.Criteria{"pk": pks}).All(ctx)
}

func (postgresStore *Store) memberKeys(
	ctx context.Context, join store.Through, ownerPK interface{},
) ([]interface{}, error) {
	query := psql.
		Select(join.MemberColumn).
		From(join.Table).
		Where(sq.Eq{join.OwnerColumn: ownerPK})

	rows, err := postgresStore.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []interface{}
	for rows.Next() {
		var pk interface{}
		if err := rows.Scan(&pk); err != nil {
			return nil, xerrors.Errorf("error reading %s: %w", join.Table, err)
		}
		pks = append(pks, normalize(pk))
	}
	return pks, rows.Err()
}

func (postgresStore *Store) SetMembers(
	ctx context.Context, instance store.Instance, name string, pks []interface{},
) error {
	join, related, err := postgresStore.manyToMany(instance, name)
	if err != nil {
		return err
	}
	if instance.PK() == nil {
		return xerrors.Errorf("cannot set %s on an unsaved %s", name, instance.Model().Key())
	}

	var existing []store.Instance
	if len(pks) > 0 {
		existing, err = postgresStore.QuerySet(related).Filter(store.Criteria{"pk": pks}).All(ctx)
		if err != nil {
			return err
		}
	}

	return postgresStore.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		txStore := tx.(*Store)
		if err := txStore.clear(ctx, join, instance.PK()); err != nil {
			return err
		}
		if len(existing) == 0 {
			return nil
		}

		insert := psql.Insert(join.Table).Columns(join.OwnerColumn, join.MemberColumn)
		for _, member := range existing {
			insert = insert.Values(instance.PK(), member.PK())
		}
		_, err := txStore.exec(ctx, insert)
		return err
	})
}

func (postgresStore *Store) ClearMembers(ctx context.Context, instance store.Instance, name string) error {
	join, _, err := postgresStore.manyToMany(instance, name)
	if err != nil {
		return err
	}
	return postgresStore.clear(ctx, join, instance.PK())
}

func (postgresStore *Store) clear(ctx context.Context, join store.Through, ownerPK interface{}) error {
	_, err := postgresStore.exec(
		ctx,
		psql.Delete(join.Table).Where(sq.Eq{join.OwnerColumn: ownerPK}),
	)
	return err
}

// Atomic runs fn inside a transaction, or a savepoint when already in one.
func (postgresStore *Store) Atomic(
	ctx context.Context, fn func(ctx context.Context, tx store.Store) error,
) (err error) {
	tx, err := postgresStore.database.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("error starting transaction: %w", err)
	}

	defer func() {
		recovered := recover()
		if recovered != nil {
			err = xerrors.Errorf("panic during transaction: %v", recovered)
		}
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				postgresStore.logger.WarnWith("Failed to roll back", "err", rollbackErr.Error())
			}
		}
	}()

	txStore := &Store{
		logger:   postgresStore.logger,
		registry: postgresStore.registry,
		database: tx,
	}
	if err = fn(ctx, txStore); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return xerrors.Errorf("error committing transaction: %w", err)
	}
	return nil
}
