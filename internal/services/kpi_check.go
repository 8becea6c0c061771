package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sicet-backend-go/internal/models"
)

type KPIViolation struct {
	Field   string
	Value   string
	Message string
}

// CheckKPIValue compares a task value against the KPI field schema. A bare
// scalar is accepted as the value of a single-field KPI.
func CheckKPIValue(fields models.KPIFields, raw []byte) []KPIViolation {
	values := map[string]interface{}{}
	if len(raw) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(raw, &decoded); err == nil {
			switch typed := decoded.(type) {
			case map[string]interface{}:
				values = typed
			case nil:
			default:
				if len(fields) == 1 {
					values[fields[0].Name] = typed
				}
			}
		}
	}

	violations := []KPIViolation{}
	for _, field := range fields {
		value, present := values[field.Name]
		if !present || isBlank(value) {
			if field.Required {
				violations = append(violations, KPIViolation{Field: field.Name, Message: "Valore obbligatorio mancante"})
			}
			continue
		}
		switch field.Type {
		case models.FieldNumber:
			number, ok := asNumber(value)
			if !ok {
				violations = append(violations, KPIViolation{Field: field.Name, Value: display(value), Message: "Valore non numerico"})
				continue
			}
			if field.Min != nil && number < *field.Min {
				violations = append(violations, KPIViolation{
					Field:   field.Name,
					Value:   display(value),
					Message: fmt.Sprintf("Valore %s inferiore al minimo %s", display(value), formatNumber(*field.Min)),
				})
			}
			if field.Max != nil && number > *field.Max {
				violations = append(violations, KPIViolation{
					Field:   field.Name,
					Value:   display(value),
					Message: fmt.Sprintf("Valore %s superiore al massimo %s", display(value), formatNumber(*field.Max)),
				})
			}
		case models.FieldSelect:
			if len(field.Options) > 0 && !containsString(field.Options, display(value)) {
				violations = append(violations, KPIViolation{Field: field.Name, Value: display(value), Message: "Opzione non prevista"})
			}
		}
	}
	return violations
}

func isBlank(value interface{}) bool {
	if value == nil {
		return true
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text) == ""
	}
	return false
}

func asNumber(value interface{}) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(typed), ",", "."), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func display(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return formatNumber(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		raw, _ := json.Marshal(typed)
		return string(raw)
	}
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
