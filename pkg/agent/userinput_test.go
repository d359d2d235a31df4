package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserInputRequest(t *testing.T) {
	req := ParseUserInputRequest(map[string]any{
		"context": "Need deployment details",
		"user_input_fields": []any{
			map[string]any{
				"field_name":        "region",
				"field_type":        "str",
				"field_description": "Target AWS region",
			},
			map[string]any{
				"field_name":        "replicas",
				"field_type":        "int",
				"field_description": "Number of replicas",
			},
		},
	})

	assert.Equal(t, "Need deployment details", req.Context)
	require.Len(t, req.Fields, 2)
	assert.Equal(t, "region", req.Fields[0].FieldName)
	assert.Equal(t, "int", req.Fields[1].FieldType)
}

func TestParseUserInputRequestDefaultsAndDrops(t *testing.T) {
	req := ParseUserInputRequest(map[string]any{
		"user_input_fields": []any{
			// Missing field_type defaults to str.
			map[string]any{"field_name": "token", "field_description": "API token"},
			// Missing field_name is dropped.
			map[string]any{"field_description": "orphan"},
			// Non-object entries are ignored.
			"garbage",
		},
	})

	require.Len(t, req.Fields, 1)
	assert.Equal(t, "token", req.Fields[0].FieldName)
	assert.Equal(t, "str", req.Fields[0].FieldType)
	assert.Empty(t, req.Context)
}

func TestParseUserInputRequestMalformedArguments(t *testing.T) {
	req := ParseUserInputRequest(map[string]any{"user_input_fields": "not a list"})
	assert.Empty(t, req.Fields)

	req = ParseUserInputRequest(nil)
	assert.Empty(t, req.Fields)
	assert.Empty(t, req.Context)
}

func TestUserInputToolContract(t *testing.T) {
	ut := NewUserInputTool()

	assert.Equal(t, UserInputToolName, ut.Name())
	assert.True(t, ut.AddInstructionsToPrompt())
	assert.NotEmpty(t, ut.Instructions())

	params := ut.Parameters()
	assert.Equal(t, "object", params["type"])
	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "user_input_fields")
	assert.Contains(t, props, "context")
}
