package toolexecutor

import (
	"encoding/json"
	"fmt"
)

// Messager lets a handler output choose the text returned to the model.
type Messager interface {
	ToolMessage() string
}

// Message renders the text sent back to the model for a result.
func Message(result ToolResult) string {
	if !result.Success {
		return result.Error
	}

	switch v := result.Output.(type) {
	case nil:
		return "OK"
	case string:
		return v
	case Messager:
		return v.ToolMessage()
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	case map[string]string:
		if msg, ok := v["message"]; ok {
			return msg
		}
	}

	data, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Sprintf("%v", result.Output)
	}
	return string(data)
}

// Bind decodes validated params into a typed struct through their JSON form.
func Bind(params map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}
