package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/PabloGalante/personai/internal/domain"
)

var reflector = &jsonschema.Reflector{
	Anonymous:      true,
	DoNotReference: true,
	ExpandedStruct: true,
}

// schemaFor derives the JSON schema advertised to the provider from an
// argument struct.
func schemaFor(v any) json.RawMessage {
	s := reflector.Reflect(v)
	s.Version = ""

	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	return data
}

// decodeArgs strictly decodes raw into dst and validates it. Every failure
// wraps domain.ErrInvalidToolArgs.
func decodeArgs(raw json.RawMessage, dst argsSchema) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", domain.ErrInvalidToolArgs)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}
	return nil
}

// normalizeArgs returns a canonical form of raw used to detect duplicate calls.
// encoding/json sorts object keys, so equal objects encode identically.
func normalizeArgs(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return strings.TrimSpace(raw)
	}
	v = trimStrings(v)
	data, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return string(data)
}

func trimStrings(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		for i := range t {
			t[i] = trimStrings(t[i])
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = trimStrings(e)
		}
		return t
	default:
		return v
	}
}

func required(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
