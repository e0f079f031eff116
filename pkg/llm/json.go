package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a completion contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// DecodeJSON extracts the outermost JSON object from a model completion and
// unmarshals it into v. Models frequently wrap JSON in markdown fences or
// prose, so everything outside the first '{' and the last '}' is ignored.
func DecodeJSON(response string, v any) error {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(response[start:end+1]), v); err != nil {
		return fmt.Errorf("unmarshal model JSON: %w", err)
	}
	return nil
}
