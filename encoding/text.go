package encoding

import (
	"encoding/hex"
	"io"
	"net/http"
	"net/url"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// formDecoder reads url encoded form bodies. It also takes bodies sent without a
// content type. Fields sent once map to their value and repeated fields to a list.
type formDecoder struct{}

func (formDecoder) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.FORM && mimeType != mimetype.UNKNOWN {
		return nil, false, nil
	}

	body, err := readAll(reader)
	if err != nil {
		return nil, true, err
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, true, err
	}

	payload := make(map[string]interface{}, len(values))
	for key, list := range values {
		if len(list) == 1 {
			payload[key] = list[0]
			continue
		}
		items := make([]interface{}, len(list))
		for index, item := range list {
			items[index] = item
		}
		payload[key] = items
	}
	return payload, true, nil
}

// textLink reads text/plain bodies as a string and renders values with their text
// representation.
type textLink struct{}

func (textLink) Format() string {
	return "text"
}

func (textLink) MimeType() mimetype.MimeType {
	return mimetype.TEXT
}

func (textLink) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.TEXT {
		return nil, false, nil
	}

	body, err := readAll(reader)
	if err != nil {
		return nil, true, err
	}
	return string(body), true, nil
}

func (link textLink) TryEncode(
	format string, value interface{},
) (*spantypes.Response, bool, error) {
	if format != link.Format() && format != "txt" {
		return nil, false, nil
	}
	return spantypes.Text(http.StatusOK, textOf(value)), true, nil
}

func hexString(data []byte) string {
	return hex.EncodeToString(data)
}

func hexBytes(text string) ([]byte, error) {
	return hex.DecodeString(text)
}
