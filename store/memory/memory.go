/*
In-process implementation of store.Store.

Rows are kept as store.Records per model; instances handed out are copies, so changes
only become visible through Save. Atomic holds the write lock for the duration of the
transaction and restores a snapshot of every table when the transaction fails, so no
other request ever sees a half-applied change.
*/
package memory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

type table struct {
	rows   map[string]*store.Record
	order  []string
	nextID int64
}

func newTable() *table {
	return &table{rows: make(map[string]*store.Record)}
}

func (current *table) clone() *table {
	cloned := &table{
		rows:   make(map[string]*store.Record, len(current.rows)),
		order:  make([]string, len(current.order)),
		nextID: current.nextID,
	}
	copy(cloned.order, current.order)
	for key, record := range current.rows {
		cloned.rows[key] = record.Clone()
	}
	return cloned
}

// state is everything a transaction may change.
type state struct {
	tables map[string]*table
	// "app.model.field" -> owner pk -> member pks
	members map[string]map[string][]interface{}
}

func newState() *state {
	return &state{
		tables:  make(map[string]*table),
		members: make(map[string]map[string][]interface{}),
	}
}

func (current *state) clone() *state {
	cloned := newState()
	for key, existing := range current.tables {
		cloned.tables[key] = existing.clone()
	}
	for key, owners := range current.members {
		clonedOwners := make(map[string][]interface{}, len(owners))
		for owner, pks := range owners {
			clonedOwners[owner] = append([]interface{}(nil), pks...)
		}
		cloned.members[key] = clonedOwners
	}
	return cloned
}

// peek returns the table of model without creating it, for use under a read lock.
func (current *state) peek(model *store.Model) *table {
	if existing, ok := current.tables[model.Key()]; ok {
		return existing
	}
	return newTable()
}

func (current *state) table(model *store.Model) *table {
	existing, ok := current.tables[model.Key()]
	if !ok {
		existing = newTable()
		current.tables[model.Key()] = existing
	}
	return existing
}

// accessor gives operations locked (Store) or unlocked (transaction) access to state.
type accessor interface {
	read(fn func(current *state) error) error
	write(fn func(current *state) error) error
}

// Store is a thread safe in-memory store.Store.
type Store struct {
	operations
	mutex sync.RWMutex
	state *state
}

// NewStore creates an empty store for the models of registry.
func NewStore(registry *store.Registry) *Store {
	newStore := &Store{state: newState()}
	newStore.operations = operations{access: newStore, registry: registry}
	return newStore
}

func (memoryStore *Store) read(fn func(current *state) error) error {
	memoryStore.mutex.RLock()
	defer memoryStore.mutex.RUnlock()
	return fn(memoryStore.state)
}

func (memoryStore *Store) write(fn func(current *state) error) error {
	memoryStore.mutex.Lock()
	defer memoryStore.mutex.Unlock()
	return fn(memoryStore.state)
}

// Atomic runs fn with exclusive access. On error every table is rolled back.
func (memoryStore *Store) Atomic(
	ctx context.Context, fn func(ctx context.Context, tx store.Store) error,
) error {
	memoryStore.mutex.Lock()
	defer memoryStore.mutex.Unlock()

	snapshot := memoryStore.state.clone()
	tx := newTransaction(memoryStore.registry, memoryStore.state)

	if err := runSafe(ctx, tx, fn); err != nil {
		memoryStore.state = snapshot
		return err
	}
	return nil
}

// transaction works on the state of a Store whose lock is already held.
type transaction struct {
	operations
	state *state
}

func newTransaction(registry *store.Registry, current *state) *transaction {
	tx := &transaction{state: current}
	tx.operations = operations{access: tx, registry: registry}
	return tx
}

func (tx *transaction) read(fn func(current *state) error) error {
	return fn(tx.state)
}

func (tx *transaction) write(fn func(current *state) error) error {
	return fn(tx.state)
}

// Atomic inside a transaction behaves like a savepoint.
func (tx *transaction) Atomic(
	ctx context.Context, fn func(ctx context.Context, tx store.Store) error,
) error {
	snapshot := tx.state.clone()
	if err := runSafe(ctx, tx, fn); err != nil {
		tx.state.tables = snapshot.tables
		tx.state.members = snapshot.members
		return err
	}
	return nil
}

// runSafe turns a panic inside a transaction into an error so the rollback happens.
func runSafe(
	ctx context.Context,
	tx store.Store,
	fn func(ctx context.Context, tx store.Store) error,
) (err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			err = xerrors.Errorf("panic during transaction: %v", recovered)
		}
	}()
	return fn(ctx, tx)
}

func pkKey(pk interface{}) string {
	return fmt.Sprint(pk)
}

func membersKey(model *store.Model, field *store.Field) string {
	return model.Key() + "." + field.Name
}
