package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"metered-assistant-go/internal/llm"
)

type Kind string

const (
	KindOverloaded          Kind = "overloaded"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindConfiguration       Kind = "configuration"
	KindEmptyResponse       Kind = "empty_response"
	KindInternal            Kind = "internal"
)

var userMessages = map[Kind]string{
	KindOverloaded:          "Rate limit exceeded. Please try again later.",
	KindProviderUnavailable: "The AI service is temporarily unavailable. Please try again later.",
	KindConfiguration:       "The assistant is not configured correctly. Please contact the administrator.",
	KindEmptyResponse:       "The AI returned an empty response. Please try again.",
	KindInternal:            "An error occurred. Please try again.",
}

// Error is a classified completion failure. UserMessage is safe to show;
// Err is for logs only.
type Error struct {
	Kind        Kind
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion %s", e.Kind)
	}
	return fmt.Sprintf("completion %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, UserMessage: userMessages[kind], Err: err}
}

// Classify maps a provider or transport failure to a Kind.
func Classify(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) {
		switch {
		case providerErr.IsRateLimited(), providerErr.IsOverloaded():
			return newError(KindOverloaded, err)
		case providerErr.IsAuth():
			return newError(KindConfiguration, err)
		case providerErr.StatusCode >= 400:
			return newError(KindProviderUnavailable, err)
		}
		return newError(KindInternal, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(KindProviderUnavailable, err)
	case errors.Is(err, llm.ErrMalformedResponse):
		return newError(KindProviderUnavailable, err)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return newError(KindProviderUnavailable, err)
	}
	return newError(KindInternal, err)
}
