package encoding

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/xerrors"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// XMLDeclaration opens every XML response.
const XMLDeclaration = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// Element names of the XML wire format.
const (
	XMLRootElement = "response"
	XMLItemElement = "resource"
)

// XMLNode is one element of a decoded XML body.
type XMLNode struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*XMLNode
}

// Child returns the first child element called name.
func (node *XMLNode) Child(name string) (*XMLNode, bool) {
	for _, child := range node.Children {
		if child.Name == name {
			return child, true
		}
	}
	return nil, false
}

// Map normalizes the children of node into the mapping shape the other decoders
// produce. Leaf elements become their text, elements whose children are all
// <resource> items become lists, and repeated names collect into lists.
func (node *XMLNode) Map() map[string]interface{} {
	mapped := make(map[string]interface{}, len(node.Children))
	for _, child := range node.Children {
		value := child.value()
		existing, seen := mapped[child.Name]
		switch {
		case !seen:
			mapped[child.Name] = value
		case isList(existing):
			mapped[child.Name] = append(existing.([]interface{}), value)
		default:
			mapped[child.Name] = []interface{}{existing, value}
		}
	}
	return mapped
}

func isList(value interface{}) bool {
	_, ok := value.([]interface{})
	return ok
}

func (node *XMLNode) value() interface{} {
	if len(node.Children) == 0 {
		return node.Text
	}

	for _, child := range node.Children {
		if child.Name != XMLItemElement {
			return node.Map()
		}
	}

	items := make([]interface{}, len(node.Children))
	for index, child := range node.Children {
		items[index] = child.value()
	}
	return items
}

// parseXML reads a document with a single root element.
func parseXML(reader io.Reader) (*XMLNode, error) {
	decoder := xml.NewDecoder(reader)

	var root *XMLNode
	var stack []*XMLNode
	var text []*bytes.Buffer

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch typed := token.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, xerrors.New("xml document has more than one root element")
			}

			node := &XMLNode{Name: typed.Name.Local}
			if len(typed.Attr) > 0 {
				node.Attrs = make(map[string]string, len(typed.Attr))
				for _, attr := range typed.Attr {
					node.Attrs[attr.Name.Local] = attr.Value
				}
			}

			if root == nil {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
			text = append(text, &bytes.Buffer{})

		case xml.CharData:
			if len(stack) > 0 {
				text[len(text)-1].Write(typed)
			}

		case xml.EndElement:
			node := stack[len(stack)-1]
			node.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}

	if root == nil {
		return nil, xerrors.New("xml document has no root element")
	}
	return root, nil
}

// xmlDecoder decodes XML bodies into an *XMLNode tree of the root element.
type xmlDecoder struct{}

func (xmlDecoder) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.XML {
		return nil, false, nil
	}

	root, err := parseXML(reader)
	if err != nil {
		return nil, true, err
	}
	return root, true, nil
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// xmlEncoder renders serialized data under a <response> root. Sequences emit one
// <resource> element per item, mapping keys become child elements in sorted order with
// nil values left out, and booleans render as 1 and 0.
type xmlEncoder struct{}

func (xmlEncoder) Format() string {
	return "xml"
}

func (xmlEncoder) MimeType() mimetype.MimeType {
	return mimetype.XML
}

func (encoder xmlEncoder) TryEncode(
	format string, value interface{},
) (*spantypes.Response, bool, error) {
	if format != encoder.Format() {
		return nil, false, nil
	}

	body := bytes.Buffer{}
	body.WriteString(XMLDeclaration)
	writeElement(&body, XMLRootElement, value)
	return spantypes.NewResponse(http.StatusOK, mimetype.XML, body.Bytes()), true, nil
}

func writeElement(buffer *bytes.Buffer, name string, value interface{}) {
	name = xmlName(name)
	buffer.WriteString("<" + name + ">")
	writeXML(buffer, value)
	buffer.WriteString("</" + name + ">")
}

func writeXML(buffer *bytes.Buffer, value interface{}) {
	switch typed := value.(type) {
	case nil:
	case []interface{}:
		for _, item := range typed {
			writeElement(buffer, XMLItemElement, item)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if typed[key] == nil {
				continue
			}
			writeElement(buffer, key, typed[key])
		}
	case bool:
		if typed {
			buffer.WriteString("1")
		} else {
			buffer.WriteString("0")
		}
	default:
		buffer.WriteString(xmlEscaper.Replace(xmlText(textOf(value))))
	}
}

// xmlName turns a mapping key into an element name. Characters a name cannot hold
// become underscores, and names that cannot start as they are get a leading one.
func xmlName(key string) string {
	name := strings.Map(func(char rune) rune {
		if unicode.IsLetter(char) || unicode.IsDigit(char) ||
			char == '_' || char == '-' || char == '.' {
			return char
		}
		return '_'
	}, key)

	first, _ := utf8.DecodeRuneInString(name)
	if name == "" || !(unicode.IsLetter(first) || first == '_') {
		name = "_" + name
	}
	return name
}

// xmlText replaces the characters XML 1.0 documents cannot carry, including invalid
// utf-8, with U+FFFD.
func xmlText(text string) string {
	return strings.Map(func(char rune) rune {
		switch {
		case char == '\t' || char == '\n' || char == '\r':
		case char >= 0x20 && char <= 0xD7FF:
		case char >= 0xE000 && char <= 0xFFFD:
		case char >= 0x10000 && char <= unicode.MaxRune:
		default:
			return unicode.ReplacementChar
		}
		return char
	}, text)
}
