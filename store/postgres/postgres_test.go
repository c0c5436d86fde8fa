package postgres

//revive:disable:import-shadowing reason: Disabled for assert := assert.New(), which is
// the preferred method of using multiple asserts in a test.

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/store"
)

func createModels(test *testing.T) (*store.Model, *store.Model) {
	registry := store.NewRegistry().MustRegister(
		&store.Model{
			App:    "library",
			Name:   "tag",
			Fields: []*store.Field{{Name: "label", Type: store.TypeString}},
		},
		&store.Model{
			App:  "library",
			Name: "book",
			Fields: []*store.Field{
				{Name: "title", Type: store.TypeString},
				{Name: "author", Kind: store.ForeignKey, Related: "library.tag"},
				{Name: "tags", Kind: store.ManyToMany, Related: "library.tag"},
			},
		},
	)
	assert.Nil(test, registry.Validate())

	tag, _ := registry.Get("library.tag")
	book, _ := registry.Get("library.book")
	return tag, book
}

func TestSelectQuery(test *testing.T) {
	assert := assert.New(test)
	_, book := createModels(test)

	builder, err := selectQuery(book, store.Criteria{})
	assert.Nil(err)
	sql, args, err := toSQL(builder)
	assert.Nil(err)
	assert.Equal("SELECT id, title, author_id FROM library_book ORDER BY id", sql)
	assert.Len(args, 0)

	builder, err = selectQuery(book, store.Criteria{"title": "Dune", "pk": []string{"1", "2"}})
	assert.Nil(err)
	sql, args, err = toSQL(builder)
	assert.Nil(err)
	assert.Equal(
		"SELECT id, title, author_id FROM library_book "+
			"WHERE (id IN ($1,$2) AND title = $3) ORDER BY id",
		sql,
	)
	assert.Equal([]interface{}{int64(1), int64(2), "Dune"}, args)
}

func TestSelectUnconvertibleMatchesNothing(test *testing.T) {
	assert := assert.New(test)
	_, book := createModels(test)

	for _, criteria := range []store.Criteria{
		{"id": store.NoValue},
		{"id": "not a number"},
		{"id": []interface{}{store.NoValue, "x"}},
	} {
		builder, err := selectQuery(book, criteria)
		assert.Nil(err)
		sql, args, err := toSQL(builder)
		assert.Nil(err)
		assert.Equal(
			"SELECT id, title, author_id FROM library_book WHERE (1 = 0) ORDER BY id", sql,
		)
		assert.Len(args, 0)
	}
}

func TestSelectNullAndCaseInsensitive(test *testing.T) {
	assert := assert.New(test)
	_, book := createModels(test)

	builder, err := countQuery(book, store.Criteria{"author__isnull": false})
	assert.Nil(err)
	sql, _, err := toSQL(builder)
	assert.Nil(err)
	assert.Equal("SELECT COUNT(*) FROM library_book WHERE (author_id IS NOT NULL)", sql)

	builder, err = countQuery(book, store.Criteria{"title__iexact": "DUNE"})
	assert.Nil(err)
	sql, args, err := toSQL(builder)
	assert.Nil(err)
	assert.Equal(
		"SELECT COUNT(*) FROM library_book WHERE (LOWER(CAST(title AS TEXT)) = LOWER($1))",
		sql,
	)
	assert.Equal([]interface{}{"DUNE"}, args)
}

func TestSelectUnknownField(test *testing.T) {
	_, book := createModels(test)

	_, err := selectQuery(book, store.Criteria{"tags": 1})
	assert.True(test, xerrors.Is(err, store.ErrUnknownField))
}

func TestSliceQuery(test *testing.T) {
	assert := assert.New(test)
	_, book := createModels(test)

	query := &querySet{model: book, criteria: store.Criteria{}}
	builder, err := query.sliceQuery(20, 10)
	assert.Nil(err)
	sql, _, err := toSQL(builder)
	assert.Nil(err)
	assert.Equal(
		"SELECT id, title, author_id FROM library_book ORDER BY id LIMIT 10 OFFSET 20", sql,
	)

	builder, err = query.sliceQuery(0, -1)
	assert.Nil(err)
	sql, _, err = toSQL(builder)
	assert.Nil(err)
	assert.Equal("SELECT id, title, author_id FROM library_book ORDER BY id", sql)
}

func TestWriteQueries(test *testing.T) {
	assert := assert.New(test)
	_, book := createModels(test)

	instance := store.NewRecord(book, map[string]interface{}{"title": "Dune"})
	sql, args, err := insertQuery(book, instance)
	assert.Nil(err)
	assert.Equal("INSERT INTO library_book (title) VALUES ($1) RETURNING id", sql)
	assert.Equal([]interface{}{"Dune"}, args)

	sql, args, err = insertQuery(book, store.NewRecord(book, nil))
	assert.Nil(err)
	assert.Equal("INSERT INTO library_book DEFAULT VALUES RETURNING id", sql)
	assert.Nil(args)

	instance.SetValue("id", int64(7))
	update, hasUpdates := updateQuery(book, instance)
	assert.True(hasUpdates)
	sql, args, err = toSQL(update)
	assert.Nil(err)
	assert.Equal("UPDATE library_book SET title = $1 WHERE id = $2", sql)
	assert.Equal([]interface{}{"Dune", int64(7)}, args)

	sql, args, err = toSQL(deleteQuery(book, int64(7)))
	assert.Nil(err)
	assert.Equal("DELETE FROM library_book WHERE id = $1", sql)
	assert.Equal([]interface{}{int64(7)}, args)
}

func TestThroughDefaults(test *testing.T) {
	assert := assert.New(test)
	tag, book := createModels(test)

	field, _ := book.Field("tags")
	join := through(book, field, tag)
	assert.Equal("library_book_tags", join.Table)
	assert.Equal("book_id", join.OwnerColumn)
	assert.Equal("tag_id", join.MemberColumn)
}

func TestNormalize(test *testing.T) {
	assert := assert.New(test)

	assert.Equal(int64(3), normalize(int32(3)))
	assert.Equal("text", normalize("text"))

	numeric := pgtype.Numeric{}
	assert.Nil(numeric.Scan("10.50"))
	decimal, ok := normalize(numeric).(primitive.Decimal128)
	assert.True(ok)
	assert.Equal("10.50", decimal.String())

	assert.Nil(normalize(pgtype.Numeric{}))
}
