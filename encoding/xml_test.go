package encoding

//revive:disable:import-shadowing reason: Disabled for assert := assert.New(), which is
// the preferred method of using multiple asserts in a test.

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/mimetype"
)

func encodeXML(test *testing.T, value interface{}) string {
	response, err := createEngine(test).Encode("xml", value)
	assert.Nil(test, err)
	assert.Equal(test, mimetype.XML, response.MimeType)
	return string(response.Body)
}

func TestEncodeXMLSequence(test *testing.T) {
	body := encodeXML(test, []interface{}{
		map[string]interface{}{"a": true},
		map[string]interface{}{"a": false},
	})
	assert.Equal(
		test,
		XMLDeclaration+
			"<response><resource><a>1</a></resource><resource><a>0</a></resource></response>",
		body,
	)
}

func TestEncodeXMLMapping(test *testing.T) {
	body := encodeXML(test, map[string]interface{}{
		"title":  "Fish & <Chips>",
		"author": nil,
		"pages":  int64(300),
		"tags":   []interface{}{"a", "b"},
	})
	assert.Equal(
		test,
		XMLDeclaration+
			"<response>"+
			"<pages>300</pages>"+
			"<tags><resource>a</resource><resource>b</resource></tags>"+
			"<title>Fish &amp; &lt;Chips&gt;</title>"+
			"</response>",
		body,
	)
}

func TestEncodeXMLScalar(test *testing.T) {
	assert.Equal(test, XMLDeclaration+"<response>done</response>", encodeXML(test, "done"))
	assert.Equal(test, XMLDeclaration+"<response></response>", encodeXML(test, nil))
}

func assertWellFormed(test *testing.T, body string) {
	decoder := xml.NewDecoder(strings.NewReader(body))
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return
		}
		if !assert.NoError(test, err, body) {
			return
		}
	}
}

func TestEncodeXMLElementNames(test *testing.T) {
	body := encodeXML(test, map[string]interface{}{
		"":           "a",
		"2nd":        "b",
		"a<b>":       "c",
		"first name": "d",
		"ns:tag":     "e",
		"ok-1.x":     "f",
	})
	assert.Equal(
		test,
		XMLDeclaration+
			"<response>"+
			"<_>a</_>"+
			"<_2nd>b</_2nd>"+
			"<a_b_>c</a_b_>"+
			"<first_name>d</first_name>"+
			"<ns_tag>e</ns_tag>"+
			"<ok-1.x>f</ok-1.x>"+
			"</response>",
		body,
	)
	assertWellFormed(test, body)
}

func TestEncodeXMLControlCharacters(test *testing.T) {
	body := encodeXML(test, map[string]interface{}{
		"note": "a\x00b\x1fc\td\ne\rf\xff",
	})
	assert.Equal(
		test,
		XMLDeclaration+"<response><note>a\uFFFDb\uFFFDc\td\ne\rf\uFFFD</note></response>",
		body,
	)
	assertWellFormed(test, body)
}

func TestDecodeXML(test *testing.T) {
	assert := assert.New(test)

	payload := decode(
		test,
		"application/xml; charset=utf-8",
		`<?xml version="1.0" encoding="utf-8"?>
<resource kind="book">
  <title>Dune</title>
  <tags><resource>1</resource><resource>2</resource></tags>
  <author><name>Frank</name></author>
  <note>a</note>
  <note>b</note>
</resource>`,
	)

	node, ok := payload.(*XMLNode)
	assert.True(ok)
	assert.Equal("resource", node.Name)
	assert.Equal(map[string]string{"kind": "book"}, node.Attrs)

	title, ok := node.Child("title")
	assert.True(ok)
	assert.Equal("Dune", title.Text)

	_, ok = node.Child("missing")
	assert.False(ok)

	assert.Equal(
		map[string]interface{}{
			"title":  "Dune",
			"tags":   []interface{}{"1", "2"},
			"author": map[string]interface{}{"name": "Frank"},
			"note":   []interface{}{"a", "b"},
		},
		node.Map(),
	)
}

func TestDecodeXMLSingleRoot(test *testing.T) {
	_, err := createEngine(test).Decode(
		"application/xml", strings.NewReader("<a></a><b></b>"),
	)
	assert.True(test, xerrors.Is(err, ErrMalformedBody))
	assert.Contains(test, err.Error(), "more than one root element")
}
