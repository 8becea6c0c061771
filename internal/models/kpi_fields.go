package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldBoolean = "boolean"
	FieldSelect  = "select"
	FieldDate    = "date"
)

// KPIField describes one input a check expects.
type KPIField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// KPIFields is stored as a jsonb array.
type KPIFields []KPIField

func (f KPIFields) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

func (f *KPIFields) Scan(src interface{}) error {
	var raw []byte
	switch value := src.(type) {
	case nil:
		*f = KPIFields{}
		return nil
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("kpi fields: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*f = KPIFields{}
		return nil
	}
	return json.Unmarshal(raw, f)
}
