package llm

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestClassifyRateLimit(t *testing.T) {
	cases := []error{
		genai.APIError{Code: 429, Message: "too many requests"},
		genai.APIError{Code: 500, Message: "quota exceeded for project"},
		errors.New("RESOURCE_EXHAUSTED: out of tokens"),
	}
	for _, err := range cases {
		turnErr := Classify(err)
		if turnErr.StatusCode != 429 {
			t.Errorf("Classify(%v) status = %d, want 429", err, turnErr.StatusCode)
		}
		if turnErr.Message != "API rate limit exceeded" {
			t.Errorf("Classify(%v) message = %q", err, turnErr.Message)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	for _, code := range []int{401, 403} {
		turnErr := Classify(genai.APIError{Code: code, Message: "denied"})
		if turnErr.StatusCode != code {
			t.Errorf("code %d: status = %d, want %d", code, turnErr.StatusCode, code)
		}
		if turnErr.Message != "API authentication failed" {
			t.Errorf("code %d: message = %q", code, turnErr.Message)
		}
	}

	turnErr := Classify(ErrMissingAPIKey)
	if turnErr.StatusCode != 401 {
		t.Errorf("missing key: status = %d, want 401", turnErr.StatusCode)
	}
}

func TestClassifyBadRequest(t *testing.T) {
	turnErr := Classify(genai.APIError{Code: 400, Message: "bad content"})
	if turnErr.StatusCode != 400 {
		t.Errorf("status = %d, want 400", turnErr.StatusCode)
	}
	if turnErr.Message != "Invalid request" {
		t.Errorf("message = %q", turnErr.Message)
	}
}

func TestClassifyUpstream(t *testing.T) {
	for _, code := range []int{500, 502, 503} {
		turnErr := Classify(genai.APIError{Code: code, Message: "internal"})
		if turnErr.StatusCode != code {
			t.Errorf("code %d: status = %d, want %d", code, turnErr.StatusCode, code)
		}
		if turnErr.Message != "AI service temporarily unavailable" {
			t.Errorf("code %d: message = %q", code, turnErr.Message)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	turnErr := Classify(errors.New("connection reset"))
	if turnErr.StatusCode != 500 {
		t.Errorf("status = %d, want 500", turnErr.StatusCode)
	}
	if turnErr.Message != "Something went wrong" {
		t.Errorf("message = %q", turnErr.Message)
	}
	if turnErr.Action == "" {
		t.Error("expected a non-empty action hint")
	}
}

func TestClassifyPassesThroughTurnError(t *testing.T) {
	original := &TurnError{StatusCode: 418, Message: "teapot", Action: "brew"}
	wrapped := fmt.Errorf("turn failed: %w", original)
	if got := Classify(wrapped); got != original {
		t.Errorf("Classify did not pass through wrapped TurnError: %+v", got)
	}
}

func TestClassifyWrappedAPIError(t *testing.T) {
	wrapped := fmt.Errorf("streaming: %w", genai.APIError{Code: 429, Message: "slow down"})
	turnErr := Classify(wrapped)
	if turnErr.StatusCode != 429 {
		t.Errorf("status = %d, want 429", turnErr.StatusCode)
	}
}
