package store

import (
	"strings"

	"golang.org/x/xerrors"
)

// Registry holds every model known to the application, in registration order. It is
// filled at startup and only read afterwards.
type Registry struct {
	models []*Model
	byKey  map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Model),
	}
}

// Register validates model, fills in defaults and adds it.
func (registry *Registry) Register(model *Model) error {
	if err := model.setDefaults(); err != nil {
		return err
	}

	key := strings.ToLower(model.Key())
	if _, ok := registry.byKey[key]; ok {
		return xerrors.Errorf("model %s registered twice", model.Key())
	}

	registry.models = append(registry.models, model)
	registry.byKey[key] = model
	return nil
}

// MustRegister registers models and panics on error. Meant for static setup.
func (registry *Registry) MustRegister(models ...*Model) *Registry {
	for _, model := range models {
		if err := registry.Register(model); err != nil {
			panic(err)
		}
	}
	return registry
}

// Get returns the model registered under the dotted key "app.model".
func (registry *Registry) Get(key string) (*Model, bool) {
	model, ok := registry.byKey[strings.ToLower(key)]
	return model, ok
}

// ByName returns the models with the given bare name, in registration order.
func (registry *Registry) ByName(name string) []*Model {
	var found []*Model
	for _, model := range registry.models {
		if strings.EqualFold(model.Name, name) {
			found = append(found, model)
		}
	}
	return found
}

func (registry *Registry) Models() []*Model {
	models := make([]*Model, len(registry.models))
	copy(models, registry.models)
	return models
}

// Related returns the model a relation field points at.
func (registry *Registry) Related(field *Field) (*Model, error) {
	if field.Kind == Direct {
		return nil, xerrors.Errorf("%s: %w", field.Name, ErrNotRelation)
	}
	model, ok := registry.Get(field.Related)
	if !ok {
		return nil, xerrors.Errorf(
			"field %s relates to unregistered model %s", field.Name, field.Related,
		)
	}
	return model, nil
}

// Validate checks that every relation points at a registered model.
func (registry *Registry) Validate() error {
	for _, model := range registry.models {
		for _, field := range model.Fields {
			if field.Kind == Direct {
				continue
			}
			if _, err := registry.Related(field); err != nil {
				return xerrors.Errorf("model %s: %w", model.Key(), err)
			}
		}
	}
	return nil
}
