// Package recommend implements the recommend_movies tool: a cache-fronted
// catalog lookup whose result is both structured and formatted as text.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"movie-agent/internal/cache"
	"movie-agent/internal/domain"
)

const (
	ToolName        = "recommend_movies"
	toolDescription = "Recommend movies based on the genre and additional criteria provided."

	// NoResultsMarker is the prefix of the text produced when nothing matched.
	NoResultsMarker = "No movies found"
)

// Catalog resolves a query into at most five movies.
type Catalog interface {
	FetchMovies(ctx context.Context, q domain.CatalogQuery) ([]domain.Movie, error)
}

// Args is the argument object the model sends with a tool call.
type Args struct {
	Genre          string `json:"genre" validate:"required"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
}

// Result is the outcome of one recommendation lookup.
type Result struct {
	Genre  string
	Movies []domain.Movie
}

// Found reports whether at least one movie matched.
func (r Result) Found() bool {
	return len(r.Movies) > 0
}

// Format renders the result as one "- <title> (Released: <date>)" line per
// movie, or the no-results sentence when nothing matched.
func (r Result) Format() string {
	if !r.Found() {
		return NoResults(r.Genre)
	}
	lines := make([]string, 0, len(r.Movies))
	for _, m := range r.Movies {
		lines = append(lines, fmt.Sprintf("- %s (Released: %s)", m.Title, m.ReleaseDate))
	}
	return strings.Join(lines, "\n")
}

// NoResults returns the text produced when no movie matched genre.
func NoResults(genre string) string {
	return fmt.Sprintf("%s for genre %q.", NoResultsMarker, genre)
}

// Tool is the recommend_movies capability.
type Tool struct {
	catalog  Catalog
	store    cache.Store
	validate *validator.Validate
	logger   *slog.Logger
}

type Option func(*Tool)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tool) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTool builds the tool on top of a catalog and a cache store.
func NewTool(catalog Catalog, store cache.Store, opts ...Option) (*Tool, error) {
	if catalog == nil {
		return nil, errors.New("recommend: nil catalog")
	}
	if store == nil {
		return nil, errors.New("recommend: nil cache store")
	}
	t := &Tool{
		catalog:  catalog,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Definition describes the tool to the completion model.
func (t *Tool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        ToolName,
		Description: toolDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"genre": map[string]any{
					"type":        "string",
					"description": "The genre to recommend movies for.",
				},
				"additionalInfo": map[string]any{
					"type":        "string",
					"description": "Additional criteria like director or actor.",
				},
			},
			"required": []string{"genre"},
		},
	}
}

// Recommend serves the query from the cache or, on a miss, from the catalog.
// Successful fetches are cached, including empty ones; failures are not.
func (t *Tool) Recommend(ctx context.Context, genre, additionalInfo string) (Result, error) {
	key := cache.Key(genre, additionalInfo)
	if movies, ok := t.store.Get(ctx, key); ok {
		return Result{Genre: genre, Movies: movies}, nil
	}

	movies, err := t.catalog.FetchMovies(ctx, domain.CatalogQuery{Genre: genre, Filter: additionalInfo})
	if err != nil {
		return Result{}, fmt.Errorf("recommend: fetch %q: %w", genre, err)
	}
	t.store.Set(ctx, key, movies)
	return Result{Genre: genre, Movies: movies}, nil
}

// Invoke runs a model tool call and returns the tool message to append to the
// history. Malformed arguments become an error message addressed back to the
// model; catalog failures are returned as errors.
func (t *Tool) Invoke(ctx context.Context, call domain.ToolInvocation) (domain.Message, error) {
	msg := domain.Message{Role: domain.RoleTool, ToolCallID: call.ID}

	if call.Name != ToolName {
		msg.Content = fmt.Sprintf("Error: unknown tool %q.", call.Name)
		return msg, nil
	}

	var args Args
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		msg.Content = fmt.Sprintf("Error: invalid arguments: %v", err)
		return msg, nil
	}
	args.Genre = strings.TrimSpace(args.Genre)
	args.AdditionalInfo = strings.TrimSpace(args.AdditionalInfo)
	if err := t.validate.Struct(args); err != nil {
		msg.Content = "Error: genre is required."
		return msg, nil
	}

	res, err := t.Recommend(ctx, args.Genre, args.AdditionalInfo)
	if err != nil {
		return domain.Message{}, err
	}
	t.logger.DebugContext(ctx, "recommend: tool result",
		"genre", args.Genre,
		"filter", args.AdditionalInfo,
		"movies", len(res.Movies),
	)

	msg.Content = res.Format()
	msg.ToolResult = &domain.ToolResult{Found: res.Found(), Movies: res.Movies}
	return msg, nil
}
