package encoding

import (
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v2"

	"github.com/illuscio-dev/spanrest-go/mimetype"
	"github.com/illuscio-dev/spanrest-go/spantypes"
)

// yamlLink reads and writes YAML documents.
type yamlLink struct{}

func (yamlLink) Format() string {
	return "yaml"
}

func (yamlLink) MimeType() mimetype.MimeType {
	return mimetype.YAML
}

func (yamlLink) TryDecode(
	mimeType mimetype.MimeType, reader io.Reader,
) (interface{}, bool, error) {
	if mimeType != mimetype.YAML {
		return nil, false, nil
	}

	body, err := readAll(reader)
	if err != nil {
		return nil, true, err
	}

	var payload interface{}
	if err := yaml.Unmarshal(body, &payload); err != nil {
		return nil, true, err
	}
	return normalizeYaml(payload), true, nil
}

func (link yamlLink) TryEncode(
	format string, value interface{},
) (*spantypes.Response, bool, error) {
	if format != link.Format() {
		return nil, false, nil
	}

	body, err := yaml.Marshal(value)
	if err != nil {
		return nil, true, err
	}
	return spantypes.NewResponse(http.StatusOK, mimetype.YAML, body), true, nil
}

// normalizeYaml converts the map[interface{}]interface{} values yaml.v2 produces into
// string keyed maps.
func normalizeYaml(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		normalized := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			normalized[fmt.Sprint(key)] = normalizeYaml(item)
		}
		return normalized
	case []interface{}:
		normalized := make([]interface{}, len(typed))
		for index, item := range typed {
			normalized[index] = normalizeYaml(item)
		}
		return normalized
	}
	return value
}
