package wireframe_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harun/studio/pkg/agent/agenttest"
	"github.com/harun/studio/pkg/excalidraw"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/studio"
	"github.com/harun/studio/pkg/studio/studiotest"
	"github.com/harun/studio/pkg/studio/wireframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Generate(t *testing.T) {
	t.Run("should convert elements and save the scene", func(t *testing.T) {
		env := studiotest.New(t,
			agenttest.ToolUse(agenttest.Call("c1", wireframe.ToolCreate, map[string]interface{}{
				"title": "Login",
				"elements": []interface{}{
					map[string]interface{}{"type": "rectangle", "x": 100, "y": 100, "width": 300, "height": 40, "label": "Email"},
					map[string]interface{}{"type": "text", "x": 100, "y": 40, "text": "Sign in"},
					map[string]interface{}{"type": "arrow", "x": 50, "y": 50},
				},
			})),
		)
		env.AddSource(t, "p1", "brief", "Login brief", "md", "Email and password fields.")
		svc, err := wireframe.New(wireframe.Config{Deps: env.Deps})
		require.NoError(t, err)

		res, err := svc.Generate(context.Background(), wireframe.Request{ProjectID: "p1", SourceID: "brief", JobID: "wf1"})
		require.NoError(t, err)
		require.True(t, res.Success, res.ErrorMessage)
		assert.Equal(t, 1, res.Iterations)

		data, err := env.Storage.ReadStudioFile("p1", "wireframes", "wf1.excalidraw")
		require.NoError(t, err)
		var scene excalidraw.Scene
		require.NoError(t, json.Unmarshal(data, &scene))
		assert.Equal(t, "excalidraw", scene.Type)
		require.Len(t, scene.Elements, 4, "the label adds a text element")
		assert.Equal(t, "rectangle", scene.Elements[0]["type"])
		assert.Equal(t, "text", scene.Elements[1]["type"])
		assert.Equal(t, "Email", scene.Elements[1]["text"])
		assert.Equal(t, "arrow", scene.Elements[3]["type"])

		rec := env.Job(t, jobs.KindWireframe, "p1", "wf1")
		assert.Equal(t, jobs.StatusReady, rec.Status)
		assert.Equal(t, "Login", rec.String("title"))
		assert.Equal(t, float64(4), rec.Data["element_count"])
		assert.Equal(t, float64(1440), rec.Data["canvas_width"])
		assert.Equal(t, "/api/v1/projects/p1/studio/wireframes/wf1.excalidraw", rec.String("wireframe_url"))
		assert.Equal(t, "/api/v1/projects/p1/studio/wireframes/wf1/preview", rec.String("preview_url"))

		out := res.Output.(*studio.Result)
		assert.Equal(t, 4, out.Artifact["element_count"])
	})

	t.Run("should reject unknown element types and retry", func(t *testing.T) {
		env := studiotest.New(t,
			agenttest.ToolUse(agenttest.Call("c1", wireframe.ToolCreate, map[string]interface{}{
				"title":    "Bad",
				"elements": []interface{}{map[string]interface{}{"type": "hexagon"}},
			})),
			agenttest.ToolUse(agenttest.Call("c2", wireframe.ToolCreate, map[string]interface{}{
				"title": "Good", "canvas_width": 800, "canvas_height": 600, "elements": []interface{}{},
			})),
		)
		env.AddSource(t, "p1", "brief", "Brief", "txt", "x")
		svc, err := wireframe.New(wireframe.Config{Deps: env.Deps})
		require.NoError(t, err)

		res, err := svc.Generate(context.Background(), wireframe.Request{ProjectID: "p1", SourceID: "brief", JobID: "wf2"})
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, 2, res.Iterations)
		assert.True(t, env.ToolResult(t, 0, 0).IsError)

		rec := env.Job(t, jobs.KindWireframe, "p1", "wf2")
		assert.Equal(t, float64(800), rec.Data["canvas_width"])
		assert.Equal(t, float64(0), rec.Data["element_count"])
	})
}
