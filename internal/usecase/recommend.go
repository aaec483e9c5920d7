package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"movie-agent/internal/domain"
	"movie-agent/internal/workflow"
)

const (
	defaultMaxGenreLen = 100
	defaultMaxInfoLen  = 300
)

// Runner drives one conversational turn and returns the messages it produced.
type Runner interface {
	Run(ctx context.Context, history []domain.Message) ([]domain.Message, error)
}

// StateStore holds thread histories.
type StateStore interface {
	Load(ctx context.Context, threadID string) ([]domain.Message, error)
	Append(ctx context.Context, threadID string, msgs []domain.Message) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type RecommendService struct {
	runner      Runner
	state       StateStore
	locks       *threadLocks
	maxGenreLen int
	maxInfoLen  int
	logger      *slog.Logger
}

type RecommendInput struct {
	Genre          string
	AdditionalInfo string
	ThreadID       string
}

type RecommendOutput struct {
	ThreadID        string
	Recommendations string
}

func NewRecommendService(r Runner, s StateStore, logger *slog.Logger) (*RecommendService, error) {
	if r == nil {
		return nil, errors.New("usecase: runner must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecommendService{
		runner:      r,
		state:       s,
		locks:       newThreadLocks(),
		maxGenreLen: defaultMaxGenreLen,
		maxInfoLen:  defaultMaxInfoLen,
		logger:      logger,
	}, nil
}

// Recommend runs one recommendation turn on the caller's thread, or on a new
// thread when none is given. Turns on the same thread run one at a time.
func (s *RecommendService) Recommend(ctx context.Context, in RecommendInput) (RecommendOutput, error) {
	genre := strings.TrimSpace(in.Genre)
	info := strings.TrimSpace(in.AdditionalInfo)
	if genre == "" {
		return RecommendOutput{}, newError(ErrorInvalidInput, "empty_genre", nil)
	}
	if utf8.RuneCountInString(genre) > s.maxGenreLen {
		return RecommendOutput{}, newError(ErrorInvalidInput, "genre_too_long", nil)
	}
	if utf8.RuneCountInString(info) > s.maxInfoLen {
		return RecommendOutput{}, newError(ErrorInvalidInput, "additional_info_too_long", nil)
	}

	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		threadID = newUUID()
	}

	unlock, err := s.locks.lock(ctx, threadID)
	if err != nil {
		return RecommendOutput{}, newError(ErrorTimeout, "thread_busy", err)
	}
	defer unlock()

	history, err := s.state.Load(ctx, threadID)
	if err != nil {
		return RecommendOutput{}, newError(ErrorInternal, "state_load_error", err)
	}

	seed := domain.NewHumanMessage(seedText(genre, info))
	working := make([]domain.Message, 0, len(history)+1)
	working = append(working, history...)
	working = append(working, seed)

	produced, err := s.runner.Run(ctx, working)
	if err != nil {
		return RecommendOutput{}, classifyRunError(err)
	}
	answer, ok := domain.LastMessage(produced)
	if !ok {
		return RecommendOutput{}, newError(ErrorInternal, "empty_workflow_result", nil)
	}

	turn := make([]domain.Message, 0, len(produced)+1)
	turn = append(turn, seed)
	turn = append(turn, produced...)
	if err := s.state.Append(ctx, threadID, turn); err != nil {
		return RecommendOutput{}, newError(ErrorInternal, "state_write_error", err)
	}

	s.logger.InfoContext(ctx, "recommendation complete",
		"thread_id", threadID,
		"genre", genre,
		"messages", len(turn),
		"fallback", answer.Tag == domain.TagFallback,
	)
	return RecommendOutput{
		ThreadID:        threadID,
		Recommendations: answer.Content,
	}, nil
}

// seedText is the user turn that opens a recommendation request.
func seedText(genre, additionalInfo string) string {
	text := "Can you recommend some " + genre + " movies?"
	if additionalInfo != "" {
		text += " " + additionalInfo
	}
	return text
}

func classifyRunError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTimeout, "request_timeout", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrorTimeout, "request_canceled", err)
	case errors.Is(err, workflow.ErrStepLimit):
		return newError(ErrorInternal, "router_step_limit", err)
	}

	var nodeErr *workflow.NodeError
	if !errors.As(err, &nodeErr) {
		return newError(ErrorInternal, "workflow_error", err)
	}

	switch nodeErr.State {
	case workflow.StateAgent:
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return newError(ErrorUpstream, "openai_error", err)
	case workflow.StateTools:
		if errors.Is(err, gobreaker.ErrOpenState) {
			return newError(ErrorUpstream, "catalog_unavailable", err)
		}
		return newError(ErrorUpstream, "catalog_error", err)
	default:
		return newError(ErrorInternal, "workflow_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
