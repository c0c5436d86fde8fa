package memory

import (
	"context"

	"github.com/illuscio-dev/spanrest-go/store"
)

type querySet struct {
	access   accessor
	model    *store.Model
	criteria store.Criteria
}

func (query *querySet) Model() *store.Model {
	return query.model
}

func (query *querySet) Filter(criteria store.Criteria) store.QuerySet {
	return &querySet{
		access:   query.access,
		model:    query.model,
		criteria: store.Merge(query.criteria, criteria),
	}
}

// matching returns copies of the matching rows in insertion order.
func (query *querySet) matching() ([]store.Instance, error) {
	conditions, err := query.criteria.Conditions(query.model)
	if err != nil {
		return nil, err
	}

	var found []store.Instance
	err = query.access.read(func(current *state) error {
		rows := current.peek(query.model)
		for _, key := range rows.order {
			record := rows.rows[key]
			if store.Match(record, conditions) {
				found = append(found, record.Clone())
			}
		}
		return nil
	})
	return found, err
}

func (query *querySet) Get(ctx context.Context) (store.Instance, error) {
	found, err := query.matching()
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
	return query.matching()
}

func (query *querySet) Count(ctx context.Context) (int, error) {
	found, err := query.matching()
	return len(found), err
}

func (query *querySet) Slice(ctx context.Context, offset int, limit int) ([]store.Instance, error) {
	found, err := query.matching()
	if err != nil {
		return nil, err
	}

	if offset >= len(found) {
		return []store.Instance{}, nil
	}
	end := offset + limit
	if limit < 0 || end > len(found) {
		end = len(found)
	}
	return found[offset:end], nil
}
