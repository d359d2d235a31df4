package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("OMNI_TEST_KEY", "secret-value")
	t.Setenv("OMNI_TEST_HOST", "db.internal")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braced", "${OMNI_TEST_KEY}", "secret-value"},
		{"simple", "$OMNI_TEST_KEY", "secret-value"},
		{"embedded", "key=${OMNI_TEST_KEY};host=$OMNI_TEST_HOST", "key=secret-value;host=db.internal"},
		{"default unused", "${OMNI_TEST_KEY:-fallback}", "secret-value"},
		{"default used", "${OMNI_TEST_UNSET:-fallback}", "fallback"},
		{"unset braced becomes empty", "${OMNI_TEST_UNSET}", ""},
		{"no reference", "plain text", "plain text"},
		{"dollar without name", "cost is $5", "cost is $5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 0.5, parseValue("0.5"))
	assert.Equal(t, "hello", parseValue("hello"))
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("OMNI_TEST_PORT", "9090")
	t.Setenv("OMNI_TEST_NAME", "worker")

	data := map[string]any{
		"port": "${OMNI_TEST_PORT}",
		"name": "${OMNI_TEST_NAME}",
		"tags": []any{"$OMNI_TEST_NAME", "static"},
		"nested": map[string]any{
			"enabled": "${OMNI_TEST_FLAG:-true}",
		},
		"count": 7,
	}

	result := ExpandEnvVarsInData(data).(map[string]any)

	// Expanded numerics become typed values.
	assert.Equal(t, 9090, result["port"])
	assert.Equal(t, "worker", result["name"])
	assert.Equal(t, []any{"worker", "static"}, result["tags"])
	assert.Equal(t, true, result["nested"].(map[string]any)["enabled"])
	assert.Equal(t, 7, result["count"])
}

func TestExpandEnvVarsInDataLeavesUnchangedStrings(t *testing.T) {
	// A literal numeric string without env references stays a string.
	assert.Equal(t, "8080", ExpandEnvVarsInData("8080"))
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")

	assert.Equal(t, "sk-openai", ProviderAPIKey("openai"))
	assert.Equal(t, "sk-anthropic", ProviderAPIKey("anthropic"))
	assert.Empty(t, ProviderAPIKey("unknown"))
}
