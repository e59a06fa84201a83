package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/metrics"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the cause; network failures also match meme.ErrNetworkFailure.
func (e *ValidationError) Unwrap() []error {
	errs := []error{}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Type == ErrTypeNetworkError {
		errs = append(errs, meme.ErrNetworkFailure)
	}
	return errs
}

func (t ValidationErrorType) result() string {
	switch t {
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

// ValidateAPIKey verifies the key behind client with a minimal request to
// model. It returns nil if the key works, or a ValidationError whose Type
// says why not.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	if err != nil {
		valErr := classifyError(err)
		recordValidation(valErr.Type.result(), elapsed)
		return valErr
	}

	if resp == nil || len(resp.Candidates) == 0 {
		log.Warn().Msg("API key validation returned empty response")
		recordValidation("empty_response", elapsed)
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "API returned empty response",
		}
	}

	recordValidation("success", elapsed)
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

func recordValidation(result string, elapsed time.Duration) {
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()
}

// messagePatterns classifies errors that carry no API status code.
var messagePatterns = []struct {
	typ      ValidationErrorType
	message  string
	needles  []string
	logLabel string
}{
	{
		typ:      ErrTypeInvalidKey,
		message:  "API key is invalid or has been revoked",
		needles:  []string{"api key not valid", "invalid api key", "api_key_invalid", "permission denied"},
		logLabel: "Invalid API key",
	},
	{
		typ:      ErrTypeQuotaExceeded,
		message:  "API quota exceeded or rate limited",
		needles:  []string{"quota", "resource exhausted", "rate limit"},
		logLabel: "API quota exceeded",
	},
	{
		typ:      ErrTypeNetworkError,
		message:  "Network error - check your internet connection",
		needles:  []string{"connection", "network", "timeout", "dial", "no such host", "unreachable"},
		logLabel: "Network error during API validation",
	},
}

// classifyError maps a Gemini call failure to a ValidationError.
func classifyError(err error) *ValidationError {
	if err == nil {
		return nil
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(err, apiErr)
	}

	lower := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(lower, needle) {
				log.Error().Err(err).Msg(p.logLabel)
				return &ValidationError{Type: p.typ, Message: p.message, Err: err}
			}
		}
	}

	log.Error().Err(err).Msg("Unknown error during API validation")
	return &ValidationError{Type: ErrTypeUnknown, Message: "Failed to validate API key", Err: err}
}

// classifyAPIError maps an HTTP status from the Gemini API. err is the
// original error so wrapping is preserved.
func classifyAPIError(err error, apiErr *genai.APIError) *ValidationError {
	v := &ValidationError{Err: err}
	switch code := apiErr.Code; {
	case code == 400:
		v.Type, v.Message = ErrTypeInvalidKey, "Bad request - API key may be malformed"
	case code == 401 || code == 403:
		v.Type, v.Message = ErrTypeInvalidKey, "API key is invalid, expired, or lacks permissions"
	case code == 429:
		v.Type, v.Message = ErrTypeQuotaExceeded, "API rate limit exceeded - try again later"
	case code >= 500:
		v.Type, v.Message = ErrTypeNetworkError, "Gemini API server error - try again later"
	default:
		v.Type, v.Message = ErrTypeUnknown, apiErr.Message
	}
	log.Error().Int("code", apiErr.Code).Str("type", v.Type.result()).Msg("Gemini API rejected validation request")
	return v
}
