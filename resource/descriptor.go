/*
Resources bind a model of the store to CRUD HTTP semantics.

A Descriptor is the declaration of one route: the model, a fixed base queryset, the
lookups filtering it, pagination, the fieldset used to project instances and the
methods the route answers. New validates a descriptor and freezes it into a Resource,
which a Dispatcher executes requests against:

	books, err := resource.New(resource.Descriptor{
		Name:         "books",
		Model:        bookModel,
		PaginateBy:   20,
		QueryLookups: []lookup.Parameter{{Name: "author", Field: "author_id"}},
		Fields:       fieldset.Fixed(fieldset.Names("title", "author")),
	})

Server mounts dispatchers on a chi router and translates HTTP requests to Requests.
*/
package resource

import (
	"net/http"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/fieldset"
	"github.com/illuscio-dev/spanrest-go/lookup"
	"github.com/illuscio-dev/spanrest-go/store"
)

// Path parameters that switch a resource to single instance mode.
const (
	PKParam   = "pk"
	SlugParam = "slug"
)

// DefaultFormat is used when a descriptor does not declare one.
const DefaultFormat = "json"

// DefaultMethods are allowed when a descriptor does not restrict them.
var DefaultMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
}

// Descriptor declares a resource.
type Descriptor struct {
	// Name of the resource, also its default mount path.
	Name string
	// Path the resource is mounted at. Defaults to "/" + Name.
	Path  string
	Model *store.Model
	// Base criteria every request starts from.
	Criteria store.Criteria
	// Default page size, 0 disables pagination.
	PaginateBy int
	// Whether an empty collection is a valid answer rather than not found.
	AllowEmpty bool
	// Singletons always resolve to one instance, without pk or slug.
	Singleton bool
	// Field filtered by the slug path parameter. Defaults to "slug".
	SlugField    string
	QueryLookups []lookup.Parameter
	PathLookups  []lookup.Parameter
	Fields       fieldset.Spec
	// Format used when the request names none.
	DefaultFormat string
	// Allowed HTTP methods. Defaults to DefaultMethods.
	Methods []string
	// Fail writes whose relations cannot all be resolved instead of skipping them.
	StrictRelations bool
}

// Resource is a validated Descriptor. It is never modified after New and may be read
// concurrently.
type Resource struct {
	descriptor Descriptor
	methods    map[string]bool
}

// New validates descriptor and returns a Resource holding a private copy of it.
func New(descriptor Descriptor) (*Resource, error) {
	if descriptor.Name == "" {
		return nil, xerrors.New("resource must have a name")
	}
	if descriptor.Model == nil {
		return nil, xerrors.Errorf("resource %s has no model", descriptor.Name)
	}
	if descriptor.PaginateBy < 0 {
		return nil, xerrors.Errorf(
			"resource %s: page size %d is negative", descriptor.Name, descriptor.PaginateBy,
		)
	}

	if descriptor.Path == "" {
		descriptor.Path = "/" + descriptor.Name
	}
	if !strings.HasPrefix(descriptor.Path, "/") {
		descriptor.Path = "/" + descriptor.Path
	}
	if descriptor.SlugField == "" {
		descriptor.SlugField = "slug"
	}
	if descriptor.DefaultFormat == "" {
		descriptor.DefaultFormat = DefaultFormat
	}
	descriptor.DefaultFormat = strings.ToLower(strings.TrimLeft(descriptor.DefaultFormat, "."))

	methods := descriptor.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	allowed := make(map[string]bool, len(methods))
	for _, method := range methods {
		method = strings.ToUpper(method)
		switch method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
			allowed[method] = true
		default:
			return nil, xerrors.Errorf(
				"resource %s: method %s is not supported", descriptor.Name, method,
			)
		}
	}

	descriptor.Criteria = store.Merge(descriptor.Criteria)
	descriptor.QueryLookups = append([]lookup.Parameter(nil), descriptor.QueryLookups...)
	descriptor.PathLookups = append([]lookup.Parameter(nil), descriptor.PathLookups...)
	descriptor.Methods = nil
	for method := range allowed {
		descriptor.Methods = append(descriptor.Methods, method)
	}
	sort.Strings(descriptor.Methods)

	return &Resource{descriptor: descriptor, methods: allowed}, nil
}

func (resource *Resource) Name() string {
	return resource.descriptor.Name
}

func (resource *Resource) Path() string {
	return resource.descriptor.Path
}

func (resource *Resource) Model() *store.Model {
	return resource.descriptor.Model
}

func (resource *Resource) Singleton() bool {
	return resource.descriptor.Singleton
}

func (resource *Resource) Paginated() bool {
	return resource.descriptor.PaginateBy > 0
}

// DetailParam is the path parameter single instances are addressed by.
func (resource *Resource) DetailParam() string {
	if resource.descriptor.SlugField != "slug" {
		return SlugParam
	}
	if _, ok := resource.descriptor.Model.Field("slug"); ok {
		return SlugParam
	}
	return PKParam
}

// Methods returns the allowed methods, sorted.
func (resource *Resource) Methods() []string {
	return append([]string(nil), resource.descriptor.Methods...)
}

// Allows reports whether method may be used on the resource.
func (resource *Resource) Allows(method string) bool {
	return resource.methods[strings.ToUpper(method)]
}

// Descriptor returns a copy of the validated descriptor.
func (resource *Resource) Descriptor() Descriptor {
	descriptor := resource.descriptor
	descriptor.Criteria = store.Merge(descriptor.Criteria)
	descriptor.Methods = resource.Methods()
	return descriptor
}

// single tells whether a request addresses one instance rather than the collection.
func (resource *Resource) single(params lookup.Params) bool {
	if resource.descriptor.Singleton {
		return true
	}
	return params[PKParam] != "" || params[SlugParam] != ""
}
