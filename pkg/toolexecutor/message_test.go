package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedPlan struct {
	Title string
}

func (p savedPlan) ToolMessage() string { return "saved " + p.Title }

func TestMessage(t *testing.T) {
	tests := []struct {
		name   string
		result ToolResult
		want   string
	}{
		{"error", ToolResult{Success: false, Error: "Unknown tool: x"}, "Unknown tool: x"},
		{"string", ToolResult{Success: true, Output: "hello"}, "hello"},
		{"nil", ToolResult{Success: true}, "OK"},
		{"map with message", ToolResult{Success: true, Output: map[string]interface{}{"message": "Plan saved", "n": 2}}, "Plan saved"},
		{"messager", ToolResult{Success: true, Output: savedPlan{Title: "Q3"}}, "saved Q3"},
		{"other", ToolResult{Success: true, Output: map[string]interface{}{"n": 2}}, `{"n":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.result))
		})
	}
}

func TestBind(t *testing.T) {
	var input struct {
		Title    string   `json:"title"`
		Sections []string `json:"sections"`
		Count    int      `json:"count"`
	}

	err := Bind(map[string]interface{}{
		"title":    "Q3 Review",
		"sections": []interface{}{"Intro", "Findings"},
		"count":    float64(2),
	}, &input)

	require.NoError(t, err)
	assert.Equal(t, "Q3 Review", input.Title)
	assert.Equal(t, []string{"Intro", "Findings"}, input.Sections)
	assert.Equal(t, 2, input.Count)

	assert.Error(t, Bind(map[string]interface{}{"count": "two"}, &input))
}
