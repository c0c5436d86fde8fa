package resource

//revive:disable:import-shadowing reason: Disabled for assert := assert.New(), which is
// the preferred method of using multiple asserts in a test.

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/store"
)

func createModel(test *testing.T) *store.Model {
	registry := store.NewRegistry().MustRegister(&store.Model{
		App:    "library",
		Name:   "shelf",
		Fields: []*store.Field{{Name: "label", Type: store.TypeString}},
	})
	model, ok := registry.Get("library.shelf")
	assert.True(test, ok)
	return model
}

func TestNewAppliesDefaults(test *testing.T) {
	assert := assert.New(test)

	resource, err := New(Descriptor{Name: "shelves", Model: createModel(test)})
	assert.Nil(err)

	assert.Equal("shelves", resource.Name())
	assert.Equal("/shelves", resource.Path())
	assert.Equal([]string{"DELETE", "GET", "POST", "PUT"}, resource.Methods())
	assert.Equal(PKParam, resource.DetailParam())
	assert.False(resource.Paginated())

	descriptor := resource.Descriptor()
	assert.Equal(DefaultFormat, descriptor.DefaultFormat)
	assert.Equal("slug", descriptor.SlugField)
}

func TestNewCopiesDescriptor(test *testing.T) {
	assert := assert.New(test)

	criteria := store.Criteria{"label": "a"}
	lookups := []lookup.Parameter{{Name: "label"}}
	methods := []string{"get", "put"}

	resource, err := New(Descriptor{
		Name:         "shelves",
		Path:         "stacks",
		Model:        createModel(test),
		Criteria:     criteria,
		QueryLookups: lookups,
		Methods:      methods,
		SlugField:    "label",
	})
	assert.Nil(err)

	criteria["label"] = "b"
	lookups[0].Name = "other"
	methods[0] = "delete"

	descriptor := resource.Descriptor()
	assert.Equal(store.Criteria{"label": "a"}, descriptor.Criteria)
	assert.Equal("label", descriptor.QueryLookups[0].Name)
	assert.Equal("/stacks", resource.Path())
	assert.Equal(SlugParam, resource.DetailParam())

	assert.True(resource.Allows("GET"))
	assert.True(resource.Allows("put"))
	assert.False(resource.Allows("DELETE"))
	assert.False(resource.Allows("POST"))
}

func TestNewInvalid(test *testing.T) {
	model := createModel(test)

	testCases := []struct {
		name       string
		descriptor Descriptor
		message    string
	}{
		{
			name:       "NoName",
			descriptor: Descriptor{Model: model},
			message:    "resource must have a name",
		},
		{
			name:       "NoModel",
			descriptor: Descriptor{Name: "shelves"},
			message:    "resource shelves has no model",
		},
		{
			name:       "NegativePages",
			descriptor: Descriptor{Name: "shelves", Model: model, PaginateBy: -1},
			message:    "resource shelves: page size -1 is negative",
		},
		{
			name:       "UnknownMethod",
			descriptor: Descriptor{Name: "shelves", Model: model, Methods: []string{"PATCH"}},
			message:    "resource shelves: method PATCH is not supported",
		},
	}

	for _, thisCase := range testCases {
		test.Run(thisCase.name, func(test *testing.T) {
			resource, err := New(thisCase.descriptor)
			assert.Nil(test, resource)
			assert.EqualError(test, err, thisCase.message)
		})
	}
}

func TestSingleMode(test *testing.T) {
	assert := assert.New(test)
	model := createModel(test)

	collection, _ := New(Descriptor{Name: "shelves", Model: model})
	assert.False(collection.single(nil))
	assert.False(collection.single(lookup.Params{PKParam: ""}))
	assert.True(collection.single(lookup.Params{PKParam: "1"}))
	assert.True(collection.single(lookup.Params{SlugParam: "top"}))

	singleton, _ := New(Descriptor{Name: "shelf", Model: model, Singleton: true})
	assert.True(singleton.single(nil))
}
