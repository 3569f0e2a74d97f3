package toolexecutor

// buildSchemaMap renders a definition's parameters as a JSON Schema object.
// The same map is sent to the model and used for validation.
func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}

		switch param.Type {
		case "array":
			// OpenAI and Gemini reject arrays without an items schema.
			if param.Items != nil {
				paramSchema["items"] = param.Items
			} else {
				paramSchema["items"] = map[string]interface{}{}
			}
		case "object":
			if param.Properties != nil {
				paramSchema["properties"] = param.Properties
			}
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}
