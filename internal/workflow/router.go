package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"movie-agent/internal/domain"
	"movie-agent/internal/metrics"
)

const defaultMaxSteps = 10

// ErrStepLimit is returned when a run does not reach the end state within
// the configured number of node executions.
var ErrStepLimit = errors.New("workflow: step limit exceeded")

// Model is the completion call used by the agent and fallback nodes.
type Model interface {
	Chat(ctx context.Context, messages []domain.Message, tools []domain.ToolDefinition) (domain.Message, error)
}

// ToolInvoker runs the single tool offered to the model.
type ToolInvoker interface {
	Definition() domain.ToolDefinition
	Invoke(ctx context.Context, call domain.ToolInvocation) (domain.Message, error)
}

// NodeError reports which node failed.
type NodeError struct {
	State State
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("workflow: %s node: %v", e.State, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

type Router struct {
	model        Model
	tool         ToolInvoker
	fallback     *FallbackResponder
	systemPrompt string
	maxSteps     int
	logger       *slog.Logger
}

type RouterOption func(*Router)

func WithMaxSteps(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

func WithSystemPrompt(prompt string) RouterOption {
	return func(r *Router) {
		r.systemPrompt = strings.TrimSpace(prompt)
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRouter(model Model, tool ToolInvoker, opts ...RouterOption) (*Router, error) {
	if model == nil {
		return nil, errors.New("workflow: model must not be nil")
	}
	if tool == nil {
		return nil, errors.New("workflow: tool must not be nil")
	}
	r := &Router{
		model:        model,
		tool:         tool,
		systemPrompt: buildAgentPrompt(),
		maxSteps:     defaultMaxSteps,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.fallback = NewFallbackResponder(model, r.logger)
	return r, nil
}

// Run drives history from the agent state to the end state and returns only
// the messages produced along the way, in order. history is not modified.
func (r *Router) Run(ctx context.Context, history []domain.Message) ([]domain.Message, error) {
	working := make([]domain.Message, len(history), len(history)+4)
	copy(working, history)

	var produced []domain.Message
	state := StateAgent
	for steps := 0; state != StateEnd; steps++ {
		if steps >= r.maxSteps {
			return nil, &NodeError{State: state, Err: ErrStepLimit}
		}

		out, err := r.runNode(ctx, state, working)
		if err != nil {
			return nil, &NodeError{State: state, Err: err}
		}
		working = append(working, out...)
		produced = append(produced, out...)

		next := Next(state, working)
		metrics.RouterTransitions.WithLabelValues(state.String(), next.String()).Inc()
		r.logger.DebugContext(ctx, "workflow: transition", "from", state.String(), "to", next.String(), "step", steps)
		if next == StateFallback {
			r.logger.InfoContext(ctx, "workflow: no usable tool result, falling back")
		}
		state = next
	}
	return produced, nil
}

func (r *Router) runNode(ctx context.Context, state State, history []domain.Message) ([]domain.Message, error) {
	switch state {
	case StateAgent:
		return r.agent(ctx, history)
	case StateTools:
		return r.tools(ctx, history)
	case StateFallback:
		return []domain.Message{r.fallback.Respond(ctx, history)}, nil
	default:
		return nil, fmt.Errorf("no node for state %s", state)
	}
}

func (r *Router) agent(ctx context.Context, history []domain.Message) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(history)+1)
	if r.systemPrompt != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: r.systemPrompt})
	}
	messages = append(messages, history...)

	reply, err := r.model.Chat(ctx, messages, []domain.ToolDefinition{r.tool.Definition()})
	if err != nil {
		return nil, err
	}
	reply.Role = domain.RoleAssistant
	return []domain.Message{reply}, nil
}

func (r *Router) tools(ctx context.Context, history []domain.Message) ([]domain.Message, error) {
	last, ok := domain.LastMessage(history)
	if !ok || !last.HasToolInvocation() {
		return nil, errors.New("no tool invocation to run")
	}
	out := make([]domain.Message, 0, len(last.ToolInvocations))
	for _, call := range last.ToolInvocations {
		msg, err := r.tool.Invoke(ctx, call)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
