package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City  string `json:"city" required:"true" description:"City name"`
	Days  int    `json:"days,omitempty"`
	Units string `json:"units,omitempty"`
}

func TestReflectSchema(t *testing.T) {
	schema, err := ReflectSchema(weatherArgs{})
	require.NoError(t, err)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "days")
	assert.ElementsMatch(t, []any{"city"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	schema, err := ReflectSchema(weatherArgs{})
	require.NoError(t, err)

	assert.NoError(t, ValidateParameters(map[string]any{"city": "Berlin", "days": float64(3)}, schema))

	err = ValidateParameters(map[string]any{"days": float64(3)}, schema)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "city", ve.Field)

	err = ValidateParameters(map[string]any{"city": "Berlin", "days": 2.5}, schema)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "days", ve.Field)
}

func TestValidateParameters_HandWrittenRequired(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []string{"q"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"q": 1}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"q": "x"}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("You are {{.name}}. {{default \"be brief\" .style}}", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "You are Ada. be brief", out)

	plain, err := RenderTemplate("no markers <b>", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers <b>", plain)

	set, err := RenderTemplate("{{default \"be brief\" .style}}", map[string]any{"style": "be formal"})
	require.NoError(t, err)
	assert.Equal(t, "be formal", set)

	_, err = RenderTemplate("{{upper .name}}", map[string]any{"name": "Ada"})
	require.Error(t, err)
}
