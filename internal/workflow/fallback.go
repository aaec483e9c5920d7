package workflow

import (
	"context"
	"log/slog"
	"strings"

	"movie-agent/internal/domain"
	"movie-agent/internal/metrics"
)

const (
	defaultFallbackRequest = "Can you recommend some movies?"

	// ApologyText replaces the fallback reply when the model cannot be reached.
	ApologyText = "I'm sorry, I couldn't find any movies matching your request right now. Please try a different genre or criteria."

	fallbackInstruction = "The movie catalog returned no results for the user's request. " +
		"Do not call any tools. Reply in two or three sentences: say that no matching movies were found, " +
		"and suggest a broader genre, a different director or actor, or leaving out the extra criteria."
)

// FallbackResponder writes the reply used when the catalog produced nothing.
// It never fails: a completion error is replaced by ApologyText.
type FallbackResponder struct {
	model  Model
	logger *slog.Logger
}

func NewFallbackResponder(model Model, logger *slog.Logger) *FallbackResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackResponder{model: model, logger: logger}
}

// Respond returns an assistant message tagged fallback.
func (f *FallbackResponder) Respond(ctx context.Context, history []domain.Message) domain.Message {
	request := currentRequest(history)
	prompt := []domain.Message{
		{Role: domain.RoleSystem, Content: fallbackInstruction},
		domain.NewHumanMessage(request),
	}

	reply := domain.Message{Role: domain.RoleAssistant, Tag: domain.TagFallback}
	if f.model == nil {
		reply.Content = ApologyText
		metrics.FallbackResponses.WithLabelValues("apology").Inc()
		return reply
	}

	out, err := f.model.Chat(ctx, prompt, nil)
	if err != nil || out.IsBlank() {
		f.logger.WarnContext(ctx, "fallback completion failed, using apology", "error", err)
		reply.Content = ApologyText
		metrics.FallbackResponses.WithLabelValues("apology").Inc()
		return reply
	}

	reply.Content = out.Content
	metrics.FallbackResponses.WithLabelValues("model").Inc()
	return reply
}

// currentRequest returns the human message that opened the turn being
// answered. Earlier turns of the thread are ignored.
func currentRequest(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if m := history[i]; m.Role == domain.RoleHuman && !m.IsBlank() {
			return strings.TrimSpace(m.Content)
		}
	}
	return defaultFallbackRequest
}
