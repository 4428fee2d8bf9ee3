package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"btr-application-api/internal/models"
)

// CoerceApplication builds the application input from a decoded JSON object
// (decoded with UseNumber). Scalars are cast to the type the schema declares
// for their property: numbers and booleans become strings for string fields,
// numeric strings become numbers for weeklyHours. A value that cannot be cast
// is kept in Invalid so validation reports it against its field. Keys the
// schema does not know are dropped.
func CoerceApplication(raw map[string]interface{}) (models.ApplicationInput, error) {
	var input models.ApplicationInput

	props := ApplicationSchema().Properties
	doc := make(map[string]interface{}, len(props))
	for name, value := range raw {
		prop, ok := props[name]
		if !ok || value == nil {
			continue
		}
		cast, ok := castTo(prop.Type, value)
		if !ok {
			if input.Invalid == nil {
				input.Invalid = make(map[string]interface{})
			}
			input.Invalid[name] = value
			continue
		}
		if cast != nil {
			doc[name] = cast
		}
	}

	// Every value in doc now has its declared type, so this cannot fail on
	// a type mismatch.
	b, err := json.Marshal(doc)
	if err != nil {
		return input, fmt.Errorf("encode coerced application: %w", err)
	}
	if err := json.Unmarshal(b, &input); err != nil {
		return input, fmt.Errorf("decode coerced application: %w", err)
	}
	return input, nil
}

// castTo returns the value converted to the JSON schema type and whether the
// conversion was possible. A nil result with ok means "treat as absent".
func castTo(schemaType string, v interface{}) (interface{}, bool) {
	switch schemaType {
	case "string":
		switch t := v.(type) {
		case string:
			return t, true
		case json.Number:
			return t.String(), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		}
	case "number":
		switch t := v.(type) {
		case json.Number:
			f, err := t.Float64()
			return checkFinite(f, err, v)
		case float64:
			return checkFinite(t, nil, v)
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				return nil, true
			}
			f, err := strconv.ParseFloat(s, 64)
			return checkFinite(f, err, v)
		case bool:
			if t {
				return 1.0, true
			}
			return 0.0, true
		}
	case "object":
		if m, ok := v.(map[string]interface{}); ok {
			return m, true
		}
	default:
		return v, true
	}
	return v, false
}

func checkFinite(f float64, err error, orig interface{}) (interface{}, bool) {
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return orig, false
	}
	return f, true
}
