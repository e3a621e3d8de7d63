// Package payload decodes raw source documents (JSON or YAML) into the
// semi-structured form carried by models.RawPayload.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a source document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrEmpty is returned for documents with no content.
var ErrEmpty = errors.New("payload: empty document")

var bom = []byte{0xEF, 0xBB, 0xBF}

// Detect guesses the format from the first significant byte. A leading "{"
// means JSON; everything else (including a "---" document marker) is YAML.
func Detect(data []byte) Format {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, bom), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses data into a map. JSON numbers are kept as json.Number so that
// re-encoding does not lose precision.
func Decode(data []byte) (map[string]any, Format, error) {
	data = bytes.TrimPrefix(data, bom)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", ErrEmpty
	}

	format := Detect(data)
	var body map[string]any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, format, fmt.Errorf("payload: decode json: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, format, fmt.Errorf("payload: trailing data after json document")
		}
	default:
		if err := yaml.Unmarshal(data, &body); err != nil {
			return nil, format, fmt.Errorf("payload: decode yaml: %w", err)
		}
	}
	if body == nil {
		return nil, format, ErrEmpty
	}
	return body, format, nil
}

// DecodeReader is Decode over an io.Reader, bounded by limit bytes.
func DecodeReader(r io.Reader, limit int64) (map[string]any, Format, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("payload: read: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("payload: document exceeds %d bytes", limit)
	}
	return Decode(data)
}
