package llm

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var ErrMissingAPIKey = errors.New("missing API key for model provider")

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported model provider: %s", e.Provider)
}

// TurnError is the single classified failure reported when a turn
// aborts. Message is the short user-facing title, Action the longer
// instruction.
type TurnError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"error"`
	Action     string `json:"action"`
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, e.Action)
}

// Classify maps a provider failure onto the error taxonomy: rate limit,
// authentication, malformed request, provider outage, or unclassified.
func Classify(err error) *TurnError {
	if err == nil {
		return nil
	}

	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr
	}

	statusCode := 0
	message := err.Error()
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.Code
		if apiErr.Message != "" {
			message = apiErr.Message
		}
	}
	if errors.Is(err, ErrMissingAPIKey) {
		statusCode = 401
	}

	switch {
	case statusCode == 429 || strings.Contains(message, "quota") || strings.Contains(message, "RESOURCE_EXHAUSTED"):
		return &TurnError{
			StatusCode: 429,
			Message:    "API rate limit exceeded",
			Action:     "You've reached the rate limit for the Gemini API. Please wait a few minutes before trying again, or upgrade your plan at https://ai.google.dev for higher limits.",
		}
	case statusCode == 401 || statusCode == 403:
		return &TurnError{
			StatusCode: statusCode,
			Message:    "API authentication failed",
			Action:     "Please check that your GOOGLE_GENERATIVE_AI_API_KEY environment variable is set correctly.",
		}
	case statusCode == 400:
		return &TurnError{
			StatusCode: 400,
			Message:    "Invalid request",
			Action:     "The request could not be processed. Please try rephrasing your question.",
		}
	case statusCode >= 500:
		return &TurnError{
			StatusCode: statusCode,
			Message:    "AI service temporarily unavailable",
			Action:     "The Gemini API is experiencing issues. Please try again in a few moments.",
		}
	default:
		return &TurnError{
			StatusCode: 500,
			Message:    "Something went wrong",
			Action:     "An unexpected error occurred. Please try again.",
		}
	}
}
