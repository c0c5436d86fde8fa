/*
Field selections used to project model instances.

A Spec is either Fixed, one field list for every request, or Selectable, where a request
parameter (the marker) picks one of several named lists and a default applies when the
parameter is absent or unknown. Specs are built once per resource and resolved per
request into plain Fields.
*/
package fieldset

import (
	"sort"

	"golang.org/x/xerrors"
)

// Source is where the marker of a selectable spec is read from. lookup.Query satisfies
// it.
type Source interface {
	Lookup(name string) (string, bool)
}

// Field is one requested field. Expand asks for a relation to be followed and
// projected with Nested; an empty Nested then means every field of the related model.
type Field struct {
	Name   string
	Nested Fields
	Expand bool
}

// Fields is an ordered field selection. An empty selection projects every direct field
// of a model.
type Fields []Field

// Names builds a flat selection.
func Names(names ...string) Fields {
	fields := make(Fields, len(names))
	for index, name := range names {
		fields[index] = Field{Name: name}
	}
	return fields
}

// Nested builds a field that expands a relation with its own selection.
func Nested(name string, nested Fields) Field {
	return Field{Name: name, Nested: nested, Expand: true}
}

// Get returns the entry for name.
func (fields Fields) Get(name string) (Field, bool) {
	for _, field := range fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// Names returns the field names in order.
func (fields Fields) Names() []string {
	names := make([]string, len(fields))
	for index, field := range fields {
		names[index] = field.Name
	}
	return names
}

// Only reports whether the selection is exactly the single field name.
func (fields Fields) Only(name string) bool {
	return len(fields) == 1 && fields[0].Name == name
}

type kind int

const (
	fixed kind = iota
	selectable
)

// Spec is a Fixed or Selectable field specification. The zero value is a fixed, empty
// selection.
type Spec struct {
	kind       kind
	fields     Fields
	marker     string
	defaultSet string
	sets       map[string]Fields
}

// Fixed returns a spec that always resolves to fields.
func Fixed(fields Fields) Spec {
	return Spec{kind: fixed, fields: fields}
}

// Selectable returns a spec resolved by the value of the marker parameter. defaultSet
// names the entry of sets used when the marker is absent or names no set.
func Selectable(marker string, defaultSet string, sets map[string]Fields) (Spec, error) {
	if marker == "" {
		return Spec{}, xerrors.New("selectable fieldsets need a marker parameter")
	}
	if _, ok := sets[defaultSet]; !ok {
		return Spec{}, xerrors.Errorf("default fieldset %q is not defined", defaultSet)
	}

	copied := make(map[string]Fields, len(sets))
	for name, fields := range sets {
		copied[name] = fields
	}
	return Spec{
		kind:       selectable,
		marker:     marker,
		defaultSet: defaultSet,
		sets:       copied,
	}, nil
}

// IsSelectable tells the two variants apart.
func (spec Spec) IsSelectable() bool {
	return spec.kind == selectable
}

// Marker is the request parameter a selectable spec reads.
func (spec Spec) Marker() string {
	return spec.marker
}

// Sets returns the names of the selectable field sets, sorted.
func (spec Spec) Sets() []string {
	names := make([]string, 0, len(spec.sets))
	for name := range spec.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the concrete selection for a request.
func (spec Spec) Resolve(source Source) Fields {
	if spec.kind == fixed {
		return spec.fields
	}

	if source != nil {
		if name, ok := source.Lookup(spec.marker); ok {
			if fields, ok := spec.sets[name]; ok {
				return fields
			}
		}
	}
	return spec.sets[spec.defaultSet]
}
