// Package agenttest provides scripted LLM providers and in-memory
// collaborators for driving agent runs in tests.
package agenttest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/execlog"
	"github.com/harun/studio/pkg/jobs"
)

// ErrScriptExhausted is returned once a provider has no steps left.
var ErrScriptExhausted = errors.New("scripted provider has no more steps")

// Step is one scripted model reply.
type Step struct {
	Response *agent.LLMResponse
	Err      error
	// Block waits for the request context to end and returns its error.
	Block bool
}

// ToolUse replies with the given tool calls.
func ToolUse(calls ...agent.ToolCall) Step {
	return Step{Response: &agent.LLMResponse{
		ToolCalls:  calls,
		Usage:      &agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
		StopReason: "tool_use",
	}}
}

// Call builds a tool call.
func Call(id, name string, params map[string]interface{}) agent.ToolCall {
	if params == nil {
		params = map[string]interface{}{}
	}
	return agent.ToolCall{ID: id, Name: name, Parameters: params}
}

// Text replies with plain text and no tool calls.
func Text(content string) Step {
	return Step{Response: &agent.LLMResponse{
		Content:    content,
		Usage:      &agent.TokenUsage{InputTokens: 10, OutputTokens: 5},
		StopReason: "end_turn",
	}}
}

// Fail replies with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Provider replays steps in order and records every request.
type Provider struct {
	Name string

	mu       sync.Mutex
	steps    []Step
	requests []agent.LLMRequest
	// Repeat replays the last step forever once the script runs out.
	Repeat bool
}

// NewProvider creates a scripted provider.
func NewProvider(steps ...Step) *Provider {
	return &Provider{Name: "scripted", steps: steps}
}

// Provider returns the provider name.
func (p *Provider) Provider() string { return p.Name }

// Call returns the next scripted step.
func (p *Provider) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.mu.Lock()
	snapshot := req
	snapshot.Messages = append([]agent.AgentMessage(nil), req.Messages...)
	p.requests = append(p.requests, snapshot)

	var step Step
	switch {
	case len(p.steps) > 1 || (len(p.steps) == 1 && !p.Repeat):
		step, p.steps = p.steps[0], p.steps[1:]
	case len(p.steps) == 1:
		step = p.steps[0]
	default:
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	p.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns the recorded requests.
func (p *Provider) Requests() []agent.LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]agent.LLMRequest(nil), p.requests...)
}

// Factory hands out providers by auth profile id.
type Factory struct {
	Providers map[string]agent.LLMProvider

	mu      sync.Mutex
	created map[string]int
}

// SingleProfile returns a factory and matching auth profile for one provider.
func SingleProfile(p agent.LLMProvider) (*Factory, []agent.AuthProfile) {
	return &Factory{Providers: map[string]agent.LLMProvider{"test": p}},
		[]agent.AuthProfile{{ID: "test", Provider: "anthropic", APIKey: "test-key", Priority: 1}}
}

// NewProvider implements agent.ProviderCreator.
func (f *Factory) NewProvider(profile agent.AuthProfile) (agent.LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = make(map[string]int)
	}
	f.created[profile.ID]++

	p, ok := f.Providers[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for profile %s", profile.ID)
	}
	return p, nil
}

// Created returns how many times a profile's provider was requested.
func (f *Factory) Created(profileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[profileID]
}

// JobUpdate is one recorded job update.
type JobUpdate struct {
	Kind      string
	ProjectID string
	JobID     string
	Fields    jobs.Fields
}

// Jobs records job updates in memory.
type Jobs struct {
	mu      sync.Mutex
	updates []JobUpdate
}

// Update implements agent.JobUpdater.
func (j *Jobs) Update(_ context.Context, kind, projectID, jobID string, fields jobs.Fields) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	copied := jobs.Fields{}
	for k, v := range fields {
		copied[k] = v
	}
	j.updates = append(j.updates, JobUpdate{Kind: kind, ProjectID: projectID, JobID: jobID, Fields: copied})
	return nil
}

// Updates returns the recorded updates.
func (j *Jobs) Updates() []JobUpdate {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JobUpdate(nil), j.updates...)
}

// Executions records saved executions in memory.
type Executions struct {
	mu    sync.Mutex
	saved []execlog.Execution
}

// Save implements execlog.Recorder.
func (e *Executions) Save(_ context.Context, exec execlog.Execution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = append(e.saved, exec)
	return nil
}

// Saved returns the recorded executions.
func (e *Executions) Saved() []execlog.Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execlog.Execution(nil), e.saved...)
}
