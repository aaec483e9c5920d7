// Package tmdb is the movie catalog client: genre lookup, person search and
// filtered discovery against The Movie Database API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"movie-agent/internal/domain"
	"movie-agent/internal/metrics"
)

const (
	defaultBaseURL  = "https://api.themoviedb.org/3"
	defaultLanguage = "en-US"
	maxMovies       = 5
	breakerName     = "tmdb-api"
)

type genreListResponse struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

type personSearchResponse struct {
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

type discoverResponse struct {
	Results []struct {
		Title       string  `json:"title"`
		Overview    string  `json:"overview"`
		ReleaseDate string  `json:"release_date"`
		Popularity  float64 `json:"popularity"`
	} `json:"results"`
}

// HTTPStatusError captures non-2xx catalog responses.
type HTTPStatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("tmdb: unexpected status %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client performs the catalog lookups for one recommendation query. It holds
// no per-query state and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger

	breakerTimeout  time.Duration
	breakerFailures uint32
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBreaker tunes the circuit breaker: it opens after failures consecutive
// failed calls and stays open for timeout.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerTimeout = timeout
	}
}

// NewClient creates a catalog client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb: api key must not be empty")
	}
	c := &Client{
		baseURL:         defaultBaseURL,
		apiKey:          apiKey,
		language:        defaultLanguage,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          slog.Default(),
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.breaker = newBreaker(c.breakerFailures, c.breakerTimeout, c.logger)
	return c, nil
}

func newBreaker(failures uint32, timeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	if failures == 0 {
		failures = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about catalog health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var statusErr *HTTPStatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state transition", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// GenreID resolves a genre name, case-insensitively, to its catalog id.
func (c *Client) GenreID(ctx context.Context, name string) (int, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, nil
	}
	raw, err := c.get(ctx, "/genre/movie/list", url.Values{"language": {c.language}})
	if err != nil {
		return 0, false, fmt.Errorf("tmdb: genre list: %w", err)
	}
	var payload genreListResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, false, fmt.Errorf("tmdb: decode genre list: %w", err)
	}
	for _, g := range payload.Genres {
		if strings.EqualFold(g.Name, name) {
			return g.ID, true, nil
		}
	}
	return 0, false, nil
}

// PersonID returns the id of the first person matching query.
func (c *Client) PersonID(ctx context.Context, query string) (int, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0, false, nil
	}
	raw, err := c.get(ctx, "/search/person", url.Values{"query": {query}})
	if err != nil {
		return 0, false, fmt.Errorf("tmdb: person search: %w", err)
	}
	var payload personSearchResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, false, fmt.Errorf("tmdb: decode person search: %w", err)
	}
	if len(payload.Results) == 0 {
		return 0, false, nil
	}
	return payload.Results[0].ID, true, nil
}

// DiscoverParams selects movies by genre and, optionally, one person.
type DiscoverParams struct {
	GenreID  int
	PersonID int
	Role     FilterType
}

// Discover returns up to five movies ordered by popularity, most popular first.
func (c *Client) Discover(ctx context.Context, p DiscoverParams) ([]domain.Movie, error) {
	params := url.Values{
		"with_genres": {strconv.Itoa(p.GenreID)},
		"sort_by":     {"popularity.desc"},
		"language":    {c.language},
		"page":        {"1"},
	}
	if p.PersonID != 0 {
		params.Set(p.Role.discoverParam(), strconv.Itoa(p.PersonID))
	}

	raw, err := c.get(ctx, "/discover/movie", params)
	if err != nil {
		return nil, fmt.Errorf("tmdb: discover: %w", err)
	}
	var payload discoverResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("tmdb: decode discover: %w", err)
	}

	n := min(len(payload.Results), maxMovies)
	movies := make([]domain.Movie, 0, n)
	for _, r := range payload.Results[:n] {
		movies = append(movies, domain.Movie{
			Title:       r.Title,
			Overview:    r.Overview,
			ReleaseDate: r.ReleaseDate,
		})
	}
	return movies, nil
}

// FetchMovies runs the full resolution pipeline for q: genre, then the
// optional person filter, then discovery. An unknown genre yields no movies
// and no discovery call. An unrecognized filter type or an unmatched person
// degrades to a genre-only query.
func (c *Client) FetchMovies(ctx context.Context, q domain.CatalogQuery) ([]domain.Movie, error) {
	genreID, ok, err := c.GenreID(ctx, q.Genre)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Info("genre not found in catalog", "genre", q.Genre)
		return []domain.Movie{}, nil
	}

	params := DiscoverParams{GenreID: genreID}
	if strings.TrimSpace(q.Filter) != "" {
		f := ParseFilter(q.Filter)
		switch {
		case !f.Type.Known():
			c.logger.Warn("unknown filter type, ignoring filter", "filter_type", f.Raw, "filter", q.Filter)
		case f.Text == "":
			c.logger.Warn("filter has no search text, ignoring filter", "filter", q.Filter)
		default:
			personID, found, err := c.PersonID(ctx, f.Text)
			if err != nil {
				return nil, err
			}
			if found {
				params.PersonID = personID
				params.Role = f.Type
			} else {
				c.logger.Info("no person matched filter, discovering by genre only", "query", f.Text)
			}
		}
	}
	return c.Discover(ctx, params)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.apiKey)
	u := c.baseURL + endpoint + "?" + q.Encode()

	start := time.Now()
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		return c.doJSONRequest(req, endpoint)
	})

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.CatalogRequestDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(start).Seconds())
	c.logger.Debug("catalog request", "endpoint", endpoint, "outcome", outcome, "duration", time.Since(start))
	return raw, err
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			Endpoint:   endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
