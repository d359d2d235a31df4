// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// generateSchema derives a JSON Schema object from the Args struct tags.
//
// Supported tags:
//   - json:"name" / json:",omitempty"
//   - jsonschema:"required"
//   - jsonschema:"description=..."
//   - jsonschema:"default=...,enum=a|b,minimum=N,maximum=M"
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	// $schema/$id are noise for LLM function calling.
	delete(m, "$schema")
	delete(m, "$id")

	if m["type"] != "object" {
		return m, nil
	}

	result := map[string]any{
		"type":       "object",
		"properties": m["properties"],
	}
	if required, ok := m["required"]; ok {
		result["required"] = required
	}
	if addProps, ok := m["additionalProperties"]; ok {
		result["additionalProperties"] = addProps
	}
	return result, nil
}

// decodeArgs converts the raw argument mapping into the typed struct.
// Weak decoding tolerates the loose typing LLMs produce (numbers as
// strings, floats for ints).
func decodeArgs(args map[string]any, target any) error {
	if args == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}
