package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/logger"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/resource"
	"github.com/illuscio-dev/spanrest-go/store"
)

var fieldKinds = map[string]store.FieldKind{
	"":           store.Direct,
	"direct":     store.Direct,
	"foreignkey": store.ForeignKey,
	"fk":         store.ForeignKey,
	"manytomany": store.ManyToMany,
	"m2m":        store.ManyToMany,
}

var fieldTypes = map[string]store.FieldType{
	"":         store.TypeAny,
	"any":      store.TypeAny,
	"string":   store.TypeString,
	"integer":  store.TypeInteger,
	"int":      store.TypeInteger,
	"float":    store.TypeFloat,
	"boolean":  store.TypeBoolean,
	"bool":     store.TypeBoolean,
	"decimal":  store.TypeDecimal,
	"datetime": store.TypeDateTime,
}

type lookupEntry struct {
	Name       string `mapstructure:"name"`
	Conversion string `mapstructure:"conversion"`
	Split      string `mapstructure:"split"`
	Field      string `mapstructure:"field"`
}

type fieldEntry struct {
	Name   string        `mapstructure:"name"`
	Fields []interface{} `mapstructure:"fields"`
	Expand bool          `mapstructure:"expand"`
}

// Build creates the model registry and the resources the configuration describes.
func Build(parentLogger logger.Logger, config *Config) (*store.Registry, []*resource.Resource, error) {
	registry, err := config.Registry()
	if err != nil {
		return nil, nil, err
	}

	resources, err := config.BuildResources(registry)
	if err != nil {
		return nil, nil, err
	}

	for _, built := range resources {
		parentLogger.DebugWith("Built resource",
			"name", built.Name(),
			"model", built.Model().Key(),
			"path", built.Path())
	}
	return registry, resources, nil
}

// Registry registers every configured model and checks that relations resolve.
func (config *Config) Registry() (*store.Registry, error) {
	registry := store.NewRegistry()

	for index, modelConfig := range config.Models {
		model, err := modelConfig.build()
		if err != nil {
			return nil, xerrors.Errorf("error in model %d: %w", index, err)
		}
		if err := registry.Register(model); err != nil {
			return nil, xerrors.Errorf("error registering model %d: %w", index, err)
		}
	}

	if err := registry.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid models: %w", err)
	}
	return registry, nil
}

// BuildResources creates the configured resources over models of registry.
func (config *Config) BuildResources(registry *store.Registry) ([]*resource.Resource, error) {
	var resources []*resource.Resource

	for index, resourceConfig := range config.Resources {
		descriptor, err := resourceConfig.Descriptor(registry)
		if err != nil {
			return nil, xerrors.Errorf("error in resource %d: %w", index, err)
		}

		built, err := resource.New(descriptor)
		if err != nil {
			return nil, xerrors.Errorf("error in resource %d: %w", index, err)
		}
		resources = append(resources, built)
	}
	return resources, nil
}

func (modelConfig Model) build() (*store.Model, error) {
	model := &store.Model{
		App:        modelConfig.App,
		Name:       modelConfig.Name,
		Table:      modelConfig.Table,
		PrimaryKey: modelConfig.PrimaryKey,
		NaturalKey: modelConfig.NaturalKey,
	}

	for _, fieldConfig := range modelConfig.Fields {
		kind, ok := fieldKinds[strings.ToLower(fieldConfig.Kind)]
		if !ok {
			return nil, xerrors.Errorf("field %s: unknown kind %q", fieldConfig.Name, fieldConfig.Kind)
		}

		fieldType, ok := fieldTypes[strings.ToLower(fieldConfig.Type)]
		if !ok {
			return nil, xerrors.Errorf("field %s: unknown type %q", fieldConfig.Name, fieldConfig.Type)
		}

		model.Fields = append(model.Fields, &store.Field{
			Name:     fieldConfig.Name,
			Column:   fieldConfig.Column,
			Kind:     kind,
			Type:     fieldType,
			Related:  fieldConfig.Related,
			Through:  fieldConfig.Through,
			Nullable: fieldConfig.Nullable,
		})
	}
	return model, nil
}

// Descriptor translates the resource configuration. The model is looked up by dotted
// key first and by bare name second.
func (resourceConfig Resource) Descriptor(registry *store.Registry) (resource.Descriptor, error) {
	model, ok := registry.Get(resourceConfig.Model)
	if !ok {
		if candidates := registry.ByName(resourceConfig.Model); len(candidates) > 0 {
			model, ok = candidates[0], true
		}
	}
	if !ok {
		return resource.Descriptor{}, xerrors.Errorf(
			"resource %s: unknown model %q", resourceConfig.Name, resourceConfig.Model,
		)
	}

	queryLookups, err := parseLookups(resourceConfig.Query, registry)
	if err != nil {
		return resource.Descriptor{}, xerrors.Errorf("resource %s query: %w", resourceConfig.Name, err)
	}

	pathLookups, err := parseLookups(resourceConfig.PathLookups, registry)
	if err != nil {
		return resource.Descriptor{}, xerrors.Errorf("resource %s path: %w", resourceConfig.Name, err)
	}

	spec, err := resourceConfig.fieldSpec()
	if err != nil {
		return resource.Descriptor{}, xerrors.Errorf("resource %s fields: %w", resourceConfig.Name, err)
	}

	var criteria store.Criteria
	if len(resourceConfig.Criteria) > 0 {
		criteria = make(store.Criteria, len(resourceConfig.Criteria))
		for key, value := range resourceConfig.Criteria {
			criteria[key] = normalize(value)
		}
	}

	return resource.Descriptor{
		Name:            resourceConfig.Name,
		Path:            resourceConfig.Path,
		Model:           model,
		Criteria:        criteria,
		PaginateBy:      resourceConfig.PaginateBy,
		AllowEmpty:      resourceConfig.AllowEmpty,
		Singleton:       resourceConfig.Singleton,
		SlugField:       resourceConfig.SlugField,
		QueryLookups:    queryLookups,
		PathLookups:     pathLookups,
		Fields:          spec,
		DefaultFormat:   resourceConfig.DefaultFormat,
		Methods:         resourceConfig.Methods,
		StrictRelations: resourceConfig.StrictRelations,
	}, nil
}

func (resourceConfig Resource) fieldSpec() (fieldset.Spec, error) {
	if resourceConfig.Fieldsets == nil {
		fields, err := parseFields(resourceConfig.Fields)
		if err != nil {
			return fieldset.Spec{}, err
		}
		return fieldset.Fixed(fields), nil
	}

	if len(resourceConfig.Fields) > 0 {
		return fieldset.Spec{}, xerrors.New("fields and fieldsets cannot both be set")
	}

	names := make([]string, 0, len(resourceConfig.Fieldsets.Sets))
	for name := range resourceConfig.Fieldsets.Sets {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make(map[string]fieldset.Fields, len(names))
	for _, name := range names {
		fields, err := parseFields(resourceConfig.Fieldsets.Sets[name])
		if err != nil {
			return fieldset.Spec{}, xerrors.Errorf("set %s: %w", name, err)
		}
		sets[name] = fields
	}

	return fieldset.Selectable(resourceConfig.Fieldsets.Marker, resourceConfig.Fieldsets.Default, sets)
}

func parseFields(entries []interface{}) (fieldset.Fields, error) {
	var fields fieldset.Fields

	for _, entry := range entries {
		switch typed := normalize(entry).(type) {
		case string:
			fields = append(fields, fieldset.Field{Name: typed})

		case map[string]interface{}:
			field, err := parseFieldMapping(typed)
			if err != nil {
				return nil, err
			}
			fields = append(fields, field)

		default:
			return nil, xerrors.Errorf("field entry %v is neither a name nor a mapping", entry)
		}
	}
	return fields, nil
}

func parseFieldMapping(mapping map[string]interface{}) (fieldset.Field, error) {
	if _, ok := mapping["name"]; ok {
		entry := fieldEntry{}
		if err := decodeMapping(mapping, &entry); err != nil {
			return fieldset.Field{}, err
		}
		if entry.Name == "" {
			return fieldset.Field{}, xerrors.New("field mapping has an empty name")
		}

		nested, err := parseFields(entry.Fields)
		if err != nil {
			return fieldset.Field{}, xerrors.Errorf("field %s: %w", entry.Name, err)
		}
		if len(nested) == 0 && !entry.Expand {
			return fieldset.Field{Name: entry.Name}, nil
		}
		return fieldset.Nested(entry.Name, nested), nil
	}

	if len(mapping) != 1 {
		return fieldset.Field{}, xerrors.Errorf("field mapping %v must have a single key", mapping)
	}

	for name, value := range mapping {
		if value == nil {
			return fieldset.Nested(name, nil), nil
		}

		list, ok := value.([]interface{})
		if !ok {
			return fieldset.Field{}, xerrors.Errorf("field %s: nested fields must be a list", name)
		}

		nested, err := parseFields(list)
		if err != nil {
			return fieldset.Field{}, xerrors.Errorf("field %s: %w", name, err)
		}
		return fieldset.Nested(name, nested), nil
	}
	return fieldset.Field{}, nil
}

func parseLookups(entries []interface{}, registry *store.Registry) ([]lookup.Parameter, error) {
	var parameters []lookup.Parameter

	for _, entry := range entries {
		switch typed := normalize(entry).(type) {
		case string:
			parameters = append(parameters, lookup.Parameter{Name: typed})

		case map[string]interface{}:
			parsed := lookupEntry{}
			if err := decodeMapping(typed, &parsed); err != nil {
				return nil, err
			}
			if parsed.Name == "" {
				return nil, xerrors.New("lookup mapping has an empty name")
			}

			conversion, err := namedConversion(parsed.Conversion, registry)
			if err != nil {
				return nil, xerrors.Errorf("lookup %s: %w", parsed.Name, err)
			}

			parameters = append(parameters, lookup.Parameter{
				Name:       parsed.Name,
				Conversion: conversion,
				Split:      parsed.Split,
				Field:      parsed.Field,
			})

		default:
			return nil, xerrors.Errorf("lookup entry %v is neither a name nor a mapping", entry)
		}
	}
	return parameters, nil
}

func namedConversion(name string, registry *store.Registry) (lookup.Conversion, error) {
	switch strings.ToLower(name) {
	case "", "identity":
		return lookup.Identity, nil
	case "int", "integer":
		return lookup.Int, nil
	case "smartbool", "bool":
		return lookup.SmartBool, nil
	case "modeltype", "model":
		return lookup.ModelType(registry), nil
	}
	return nil, xerrors.Errorf("unknown conversion %q", name)
}

func decodeMapping(mapping map[string]interface{}, receiver interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      receiver,
	})
	if err != nil {
		return xerrors.Errorf("error creating decoder: %w", err)
	}

	if err := decoder.Decode(mapping); err != nil {
		return xerrors.Errorf("error decoding %v: %w", mapping, err)
	}
	return nil
}

// normalize turns the map[interface{}]interface{} values yaml.v2 produces into
// string keyed maps, recursively.
func normalize(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		normalized := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			normalized[fmt.Sprint(key)] = normalize(item)
		}
		return normalized

	case map[string]interface{}:
		normalized := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			normalized[key] = normalize(item)
		}
		return normalized

	case []interface{}:
		normalized := make([]interface{}, len(typed))
		for index, item := range typed {
			normalized[index] = normalize(item)
		}
		return normalized
	}
	return value
}
