// Package handler adapts recommendation requests from API Gateway events and
// plain HTTP onto the use case.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"movie-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 16 << 10

	genericErrorMessage = "An error occurred while processing your request."
)

type UseCase interface {
	Recommend(ctx context.Context, in usecase.RecommendInput) (usecase.RecommendOutput, error)
}

type recommendRequest struct {
	Genre          string `json:"genre" validate:"required,max=100"`
	AdditionalInfo string `json:"additionalInfo" validate:"max=300"`
	ThreadID       string `json:"thread_id" validate:"max=128"`
}

type recommendResponse struct {
	ThreadID        string `json:"thread_id"`
	Recommendations string `json:"recommendations"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	uc       UseCase
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(uc UseCase) (*Handler, error) {
	return NewHandlerWithLogger(uc, nil)
}

func NewHandlerWithLogger(uc UseCase, logger *slog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		uc:       uc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	status, body := h.process(ctx, []byte(event.Body), correlationID)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}, nil
}

// Recommend serves POST /recommend over plain HTTP.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var status int
	var body []byte
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	switch {
	case err != nil:
		status, body = errorBody(http.StatusBadRequest, usecase.ErrorInvalidInput, "Could not read the request body.")
	case len(raw) > maxBodyBytes:
		status, body = errorBody(http.StatusRequestEntityTooLarge, usecase.ErrorInvalidInput, "Request body is too large.")
	default:
		status, body = h.process(r.Context(), raw, correlationID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(correlationHeader, correlationID)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *Handler) process(ctx context.Context, raw []byte, correlationID string) (int, []byte) {
	var req recommendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorBody(http.StatusBadRequest, usecase.ErrorInvalidInput, "Please provide a valid 'genre' in the request body.")
	}
	req.Genre = strings.TrimSpace(req.Genre)
	if err := h.validate.Struct(req); err != nil {
		return errorBody(http.StatusBadRequest, usecase.ErrorInvalidInput, validationMessage(err))
	}

	out, err := h.uc.Recommend(ctx, usecase.RecommendInput{
		Genre:          req.Genre,
		AdditionalInfo: req.AdditionalInfo,
		ThreadID:       req.ThreadID,
	})
	if err != nil {
		status, code := mapError(err)
		logAttrs := []any{"correlation_id", correlationID, "status", status, "code", code, "error", err}
		if status >= 500 {
			h.logger.ErrorContext(ctx, "recommend failed", logAttrs...)
		} else {
			h.logger.WarnContext(ctx, "recommend rejected", logAttrs...)
		}
		return errorBody(status, code, publicMessage(status, err))
	}

	body, err := json.Marshal(recommendResponse{
		ThreadID:        out.ThreadID,
		Recommendations: out.Recommendations,
	})
	if err != nil {
		return errorBody(http.StatusInternalServerError, usecase.ErrorInternal, genericErrorMessage)
	}
	return http.StatusOK, body
}

func mapError(err error) (int, usecase.ErrorCode) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, ucErr.Code
	case usecase.ErrorTimeout:
		return http.StatusGatewayTimeout, ucErr.Code
	case usecase.ErrorUpstream:
		return http.StatusInternalServerError, ucErr.Code
	default:
		return http.StatusInternalServerError, usecase.ErrorInternal
	}
}

func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest:
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			return "Invalid request: " + ucErr.Reason
		}
		return "Invalid request."
	case http.StatusTooManyRequests:
		return "Too many requests, please try again later."
	case http.StatusGatewayTimeout:
		return "The request timed out."
	default:
		return genericErrorMessage
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request."
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Genre":
		if fe.Tag() == "required" {
			return "Please provide a valid 'genre' in the request body."
		}
		return "'genre' is too long."
	case "AdditionalInfo":
		return "'additionalInfo' is too long."
	case "ThreadID":
		return "'thread_id' is too long."
	default:
		return "Invalid request."
	}
}

func errorBody(status int, code usecase.ErrorCode, message string) (int, []byte) {
	body, _ := json.Marshal(errorResponse{Error: string(code), Message: message})
	return status, body
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
