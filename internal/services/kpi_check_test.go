package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sicet-backend-go/internal/models"
)

func floatPtr(value float64) *float64 {
	return &value
}

func temperatureSchema() models.KPIFields {
	return models.KPIFields{
		{Name: "temperatura", Type: models.FieldNumber, Required: true, Min: floatPtr(0), Max: floatPtr(8)},
		{Name: "esito", Type: models.FieldSelect, Options: []string{"ok", "ko"}},
		{Name: "note", Type: models.FieldText},
	}
}

func TestCheckKPIValueInRange(t *testing.T) {
	violations := CheckKPIValue(temperatureSchema(), []byte(`{"temperatura": 4.5, "esito": "ok"}`))
	assert.Empty(t, violations)
}

func TestCheckKPIValueOutOfRange(t *testing.T) {
	violations := CheckKPIValue(temperatureSchema(), []byte(`{"temperatura": "9,5", "esito": "forse"}`))

	require.Len(t, violations, 2)
	assert.Equal(t, "temperatura", violations[0].Field)
	assert.Equal(t, "9,5", violations[0].Value)
	assert.Contains(t, violations[0].Message, "massimo 8")
	assert.Equal(t, "esito", violations[1].Field)
}

func TestCheckKPIValueMissingRequired(t *testing.T) {
	violations := CheckKPIValue(temperatureSchema(), []byte(`{"note": "porta aperta"}`))

	require.Len(t, violations, 1)
	assert.Equal(t, "temperatura", violations[0].Field)
}

func TestCheckKPIValueScalarForSingleField(t *testing.T) {
	schema := models.KPIFields{{Name: "pressione", Type: models.FieldNumber, Min: floatPtr(2)}}

	violations := CheckKPIValue(schema, []byte(`1.2`))
	require.Len(t, violations, 1)
	assert.Equal(t, "1.2", violations[0].Value)

	assert.Empty(t, CheckKPIValue(schema, []byte(`null`)))
}

func TestCheckKPIValueNonNumeric(t *testing.T) {
	schema := models.KPIFields{{Name: "livello", Type: models.FieldNumber}}
	violations := CheckKPIValue(schema, []byte(`{"livello": true}`))

	require.Len(t, violations, 1)
	assert.Equal(t, "true", violations[0].Value)
}
