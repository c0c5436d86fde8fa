/*
Lookup parameters turn request parameters into store criteria.

A Parameter names the request parameter it reads, how the text is converted, an
optional delimiter to split it on and the field the result filters. Parameters are
plain values built once per resource and applied per request:

	params := []lookup.Parameter{
		{Name: "author"},
		{Name: "ids", Field: "pk", Split: ",", Conversion: lookup.Int},
		{Name: "published", Conversion: lookup.SmartBool},
	}
	criteria := lookup.Assemble(lookup.Query(request.URL.Query()), params...)

Conversion failures never abort a request: the pair is still produced and carries
store.NoValue, which stores treat as a criterion no row satisfies.
*/
package lookup

import (
	"net/url"
	"strings"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

// DefaultSplit is the delimiter conventionally used for list parameters.
const DefaultSplit = ","

// Source is where parameter values are read from.
type Source interface {
	// Lookup returns the raw value of a parameter and whether it was present.
	Lookup(name string) (string, bool)
}

// Query reads parameters from a query string. When a key repeats, the last value wins.
type Query url.Values

func (query Query) Lookup(name string) (string, bool) {
	values, ok := query[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}

// Params reads parameters bound from the URL path.
type Params map[string]string

func (params Params) Lookup(name string) (string, bool) {
	value, ok := params[name]
	return value, ok
}

// Pair is a single criteria entry.
type Pair struct {
	Field string
	Value interface{}
}

// Parameter extracts one criteria entry from a Source.
type Parameter struct {
	// Name of the request parameter.
	Name string
	// Conversion applied to the value or to each split part. Nil means Identity.
	Conversion Conversion
	// Split delimiter. Empty disables splitting.
	Split string
	// Criteria key the value filters. Empty means Name.
	Field string
}

// Target is the criteria key the parameter fills.
func (parameter Parameter) Target() string {
	if parameter.Field == "" {
		return parameter.Name
	}
	return parameter.Field
}

// Apply returns no pair when the parameter is absent and exactly one pair otherwise.
func (parameter Parameter) Apply(source Source) []Pair {
	raw, ok := source.Lookup(parameter.Name)
	if !ok {
		return nil
	}

	value, err := parameter.convert(raw)
	if err != nil {
		value = store.NoValue
	}
	return []Pair{{Field: parameter.Target(), Value: value}}
}

func (parameter Parameter) convert(raw string) (value interface{}, err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			err = xerrors.Errorf("panic converting %s: %v", parameter.Name, recovered)
		}
	}()

	conversion := parameter.Conversion
	if conversion == nil {
		conversion = Identity
	}

	if parameter.Split == "" {
		return conversion(raw)
	}

	parts := strings.Split(raw, parameter.Split)
	converted := make([]interface{}, len(parts))
	for index, part := range parts {
		converted[index], err = conversion(part)
		if err != nil {
			return nil, err
		}
	}
	return converted, nil
}

// Assemble applies every parameter to source and merges the pairs into criteria.
// Later parameters win when two target the same field.
func Assemble(source Source, parameters ...Parameter) store.Criteria {
	criteria := make(store.Criteria)
	for _, parameter := range parameters {
		for _, pair := range parameter.Apply(source) {
			criteria[pair.Field] = pair.Value
		}
	}
	return criteria
}
