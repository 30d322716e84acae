package sqlstore

import (
	"bytes"
	"encoding/json"
	"strings"
)

func decodeJSONColumn(raw string, dest any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// encodeJSONColumn writes value without HTML escaping, so "r&d" is stored as
// typed rather than as "r\u0026d" and LIKE filters can find it.
func encodeJSONColumn(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func mustJSON(value map[string]any) []byte {
	s, _ := encodeJSONColumn(value)
	return []byte(s)
}
