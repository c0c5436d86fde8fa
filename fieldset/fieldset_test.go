package fieldset

//revive:disable:import-shadowing reason: Disabled for assert := assert.New(), which is
// the preferred method of using multiple asserts in a test.

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type params map[string]string

func (source params) Lookup(name string) (string, bool) {
	value, ok := source[name]
	return value, ok
}

func TestFixed(test *testing.T) {
	assert := assert.New(test)

	spec := Fixed(Fields{
		{Name: "title"},
		Nested("author", Names("name")),
	})
	assert.False(spec.IsSelectable())

	fields := spec.Resolve(params{"view": "full"})
	assert.Equal([]string{"title", "author"}, fields.Names())

	author, ok := fields.Get("author")
	assert.True(ok)
	assert.True(author.Expand)
	assert.Equal([]string{"name"}, author.Nested.Names())

	_, ok = fields.Get("missing")
	assert.False(ok)
}

func TestZeroSpecIsEmpty(test *testing.T) {
	assert.Len(test, Spec{}.Resolve(nil), 0)
}

func TestSelectable(test *testing.T) {
	assert := assert.New(test)

	spec, err := Selectable("view", "short", map[string]Fields{
		"short": Names("id"),
		"full":  Names("id", "title"),
	})
	assert.Nil(err)
	assert.True(spec.IsSelectable())
	assert.Equal("view", spec.Marker())
	assert.Equal([]string{"full", "short"}, spec.Sets())

	assert.Equal(Names("id", "title"), spec.Resolve(params{"view": "full"}))
	assert.Equal(Names("id"), spec.Resolve(params{"view": "unknown"}))
	assert.Equal(Names("id"), spec.Resolve(params{}))
	assert.Equal(Names("id"), spec.Resolve(nil))
}

func TestSelectableValidation(test *testing.T) {
	assert := assert.New(test)

	_, err := Selectable("", "short", map[string]Fields{"short": Names("id")})
	assert.EqualError(err, "selectable fieldsets need a marker parameter")

	_, err = Selectable("view", "long", map[string]Fields{"short": Names("id")})
	assert.EqualError(err, `default fieldset "long" is not defined`)
}

func TestOnly(test *testing.T) {
	assert := assert.New(test)

	assert.True(Names("natural_key").Only("natural_key"))
	assert.False(Names("natural_key", "id").Only("natural_key"))
	assert.False(Fields{}.Only("natural_key"))
}
