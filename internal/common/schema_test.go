package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidate(t *testing.T) {
	s, err := CompileSchema("code", map[string]any{
		"type":     "object",
		"required": []any{"code"},
		"properties": map[string]any{
			"code": map[string]any{"type": "string", "pattern": `^\d{8,14}$`},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "code", s.Name())

	assert.NoError(t, s.Validate([]byte(`{"code":"4006381333931"}`)))
	assert.ErrorContains(t, s.Validate([]byte(`{"code":"12ab"}`)), "schema code")
	assert.ErrorContains(t, s.Validate([]byte(`not json`)), "unmarshal data")
}

func TestCompileSchemaRejectsInvalidDefinition(t *testing.T) {
	_, err := CompileSchema("bad", map[string]any{"type": 12})
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompileSchema("bad", map[string]any{"type": 12}) })
}
