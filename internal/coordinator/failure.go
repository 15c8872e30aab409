package coordinator

import (
	"errors"
	"fmt"

	"metered-assistant-go/internal/completion"
)

// ErrInsufficientFunds is returned before any provider call when the
// account cannot pay for a request.
var ErrInsufficientFunds = errors.New("insufficient credits")

// Stage is the last state a request reached.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageDebited   Stage = "debited"
	StageResponded Stage = "responded"
	StagePersisted Stage = "persisted"
	StageDone      Stage = "done"
)

type Kind string

const (
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindInputTooLong        Kind = "input_too_long"
	KindNoRoomForResponse   Kind = "no_room_for_response"
	KindOverloaded          Kind = "overloaded"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindConfiguration       Kind = "configuration"
	KindEmptyResponse       Kind = "empty_response"
	KindInternal            Kind = "internal"
)

var userMessages = map[Kind]string{
	KindInsufficientFunds: "You have run out of credits. Please ask an administrator to top up your balance.",
	KindInputTooLong:      "Your message is too long. Please shorten it and try again.",
	KindNoRoomForResponse: "Your message leaves no room for an answer. Please shorten it and try again.",
	KindInternal:          "Sorry, I'm having trouble processing your request. Please try again later.",
}

// Failure records where a request stopped and why.
type Failure struct {
	Stage Stage
	Kind  Kind
	Err   error

	userMessage string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("request failed at %s (%s): %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(stage Stage, kind Kind, err error) *Failure {
	return &Failure{Stage: stage, Kind: kind, Err: err, userMessage: userMessages[kind]}
}

func failCompletion(err error) *Failure {
	classified := completion.Classify(err)
	return &Failure{
		Stage:       StageDebited,
		Kind:        Kind(classified.Kind),
		Err:         classified,
		userMessage: classified.UserMessage,
	}
}

// UserMessage returns the short text a transport should show for err.
func UserMessage(err error) string {
	var failure *Failure
	if errors.As(err, &failure) && failure.userMessage != "" {
		return failure.userMessage
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return userMessages[KindInsufficientFunds]
	}
	return userMessages[KindInternal]
}
