package csvagent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/agent/agenttest"
	"github.com/harun/studio/pkg/csvagent"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersCSV = "month,region,revenue\nJan,North,100\nFeb,North,150\nJan,South,80\nMar,South,120\n"

type harness struct {
	analyzer   *csvagent.Agent
	provider   *agenttest.Provider
	storage    *storage.Store
	jobs       *agenttest.Jobs
	executions *agenttest.Executions
}

func newHarness(t *testing.T, steps ...agenttest.Step) *harness {
	t.Helper()

	store, err := storage.New(afero.NewMemMapFs(), "/projects", zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.AddSource(ctx, "p1", storage.Source{ID: "orders", Name: "orders.csv", FileExtension: "csv"}, []byte(ordersCSV), ordersCSV))
	require.NoError(t, store.AddSource(ctx, "p1", storage.Source{ID: "notes", Name: "notes.pdf", FileExtension: "pdf"}, []byte("%PDF"), "meeting notes"))

	h := &harness{
		provider:   agenttest.NewProvider(steps...),
		storage:    store,
		jobs:       &agenttest.Jobs{},
		executions: &agenttest.Executions{},
	}
	factory, profiles := agenttest.SingleProfile(h.provider)
	runner, err := agent.NewRunner(agent.Config{
		Jobs:            h.jobs,
		Executions:      h.executions,
		Logger:          zerolog.Nop(),
		AuthProfiles:    profiles,
		ProviderFactory: factory,
	})
	require.NoError(t, err)

	h.analyzer, err = csvagent.New(csvagent.Config{
		Runner:  runner,
		Storage: store,
		Prompts: prompts.NewLoader("", zerolog.Nop()),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return h
}

func TestNew(t *testing.T) {
	_, err := csvagent.New(csvagent.Config{})
	assert.Error(t, err)
}

func TestAgent_Analyze(t *testing.T) {
	t.Run("should describe, chart and submit", func(t *testing.T) {
		h := newHarness(t,
			agenttest.ToolUse(agenttest.Call("c1", "describe_csv", nil)),
			agenttest.ToolUse(agenttest.Call("c2", "aggregate_csv", map[string]interface{}{
				"operation": "sum", "value_column": "revenue", "group_by": "region",
			})),
			agenttest.ToolUse(agenttest.Call("c3", "create_chart", map[string]interface{}{
				"title": "Revenue by month", "chart_type": "line", "group_by": "month",
				"operation": "sum", "value_column": "revenue",
			})),
			agenttest.ToolUse(agenttest.Call("c4", "submit_analysis", map[string]interface{}{
				"summary": "South and North are close; January leads.",
			})),
		)

		ctx := tracing.WithJob(context.Background(), "p1", "job-1")
		result := h.analyzer.Analyze(ctx, "p1", "orders", "Which region sells most?")

		require.True(t, result.Success, result.Error)
		assert.Equal(t, "South and North are close; January leads.", result.Summary)
		require.Len(t, result.ImagePaths, 1)
		assert.True(t, strings.HasPrefix(result.ImagePaths[0], "chart_"))
		assert.True(t, strings.HasSuffix(result.ImagePaths[0], ".svg"))

		svg, err := h.storage.ReadImage("p1", result.ImagePaths[0])
		require.NoError(t, err)
		assert.Contains(t, string(svg), "Revenue by month")

		requests := h.provider.Requests()
		require.Len(t, requests, 4)
		assert.Equal(t, agent.ToolChoiceAny, requests[0].ToolChoice)
		assert.Contains(t, requests[0].Messages[0].Content, "orders.csv (source_id: orders)")
		assert.Contains(t, requests[0].Messages[0].Content, "Which region sells most?")

		describe := requests[1].Messages[2].ToolResults[0]
		assert.Contains(t, describe.Content, "Rows: 4")
		assert.Contains(t, describe.Content, "revenue (numeric): min=80 max=150 mean=112.50 sum=450")
		assert.Contains(t, describe.Content, "region (text): 2 distinct of 4 values")

		aggregate := requests[2].Messages[4].ToolResults[0]
		assert.Contains(t, aggregate.Content, "- North: 250 (2 rows)")
		assert.Contains(t, aggregate.Content, "- South: 200 (2 rows)")

		saved := h.executions.Saved()
		require.Len(t, saved, 1)
		assert.Equal(t, config.AgentCSVAnalyzer, saved[0].AgentName)
		assert.Empty(t, h.jobs.Updates(), "sub-agent runs do not own a job record")
	})

	t.Run("should chart the first periods of a long series", func(t *testing.T) {
		h := newHarness(t,
			agenttest.ToolUse(agenttest.Call("c1", "create_chart", map[string]interface{}{
				"title": "Monthly revenue", "chart_type": "line", "group_by": "month",
				"operation": "sum", "value_column": "revenue", "limit": 12,
			})),
			agenttest.ToolUse(agenttest.Call("c2", "submit_analysis", map[string]interface{}{"summary": "Dip in summer."})),
		)
		var csv strings.Builder
		csv.WriteString("month,revenue\n")
		for i := 0; i < 24; i++ {
			revenue := 1000 + i*10
			if i >= 4 && i <= 7 {
				revenue = 200
			}
			fmt.Fprintf(&csv, "%d-%02d,%d\n", 2023+i/12, i%12+1, revenue)
		}
		ctx := context.Background()
		require.NoError(t, h.storage.AddSource(ctx, "p1", storage.Source{ID: "monthly", Name: "monthly.csv", FileExtension: "csv"}, []byte(csv.String()), csv.String()))

		result := h.analyzer.Analyze(ctx, "p1", "monthly", "How did revenue trend?")
		require.True(t, result.Success, result.Error)
		require.Len(t, result.ImagePaths, 1)

		svg, err := h.storage.ReadImage("p1", result.ImagePaths[0])
		require.NoError(t, err)
		for m := 1; m <= 12; m++ {
			assert.Contains(t, string(svg), fmt.Sprintf(">2023-%02d<", m))
		}
		assert.NotContains(t, string(svg), ">2024-")
	})

	t.Run("should report tool errors back to the model", func(t *testing.T) {
		h := newHarness(t,
			agenttest.ToolUse(agenttest.Call("c1", "aggregate_csv", map[string]interface{}{
				"operation": "sum", "value_column": "profit",
			})),
			agenttest.ToolUse(agenttest.Call("c2", "submit_analysis", map[string]interface{}{"summary": "No profit column."})),
		)

		result := h.analyzer.Analyze(context.Background(), "p1", "orders", "Total profit?")
		require.True(t, result.Success)
		assert.Empty(t, result.ImagePaths)

		toolResult := h.provider.Requests()[1].Messages[2].ToolResults[0]
		assert.True(t, toolResult.IsError)
		assert.Contains(t, toolResult.Content, "unknown column")
	})

	t.Run("should fail for missing or non-CSV sources", func(t *testing.T) {
		h := newHarness(t)

		result := h.analyzer.Analyze(context.Background(), "p1", "nope", "q")
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not available")

		result = h.analyzer.Analyze(context.Background(), "p1", "notes", "q")
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not a CSV file")

		result = h.analyzer.Analyze(context.Background(), "p1", "orders", "  ")
		assert.False(t, result.Success)
		assert.Empty(t, h.provider.Requests())
	})

	t.Run("should surface an exhausted budget", func(t *testing.T) {
		h := newHarness(t, agenttest.ToolUse(agenttest.Call("c1", "describe_csv", nil)))
		h.provider.Repeat = true

		result := h.analyzer.Analyze(context.Background(), "p1", "orders", "q")
		assert.False(t, result.Success)
		assert.Equal(t, "Agent reached maximum iterations (6)", result.Error)
		assert.NotNil(t, result.ImagePaths)
	})

	t.Run("should surface provider failures", func(t *testing.T) {
		h := newHarness(t, agenttest.Fail(errors.New("invalid api key")))

		result := h.analyzer.Analyze(context.Background(), "p1", "orders", "q")
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "invalid api key")
	})
}
