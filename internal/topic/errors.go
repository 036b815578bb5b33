package topic

import "errors"

// Domain-specific errors for topic building and routing.
var (
	// ErrUnsupportedAddressing is returned when a descriptor uses an
	// addressing level or direction/facet combination that has no topic form.
	// It signals a programming error in the caller.
	ErrUnsupportedAddressing = errors.New("topic: unsupported addressing")

	// ErrInvalidSegment is returned when an id is empty or contains a
	// character that would change the topic structure (/, + or #).
	ErrInvalidSegment = errors.New("topic: invalid segment")

	// ErrMalformedTopic is returned by Parse for strings Build cannot produce.
	ErrMalformedTopic = errors.New("topic: malformed topic")

	// ErrNilSubscriber is returned when registering a descriptor without a subscriber.
	ErrNilSubscriber = errors.New("topic: subscriber cannot be nil")

	// ErrDecode is returned by Dispatch when an "in" payload is not valid JSON.
	ErrDecode = errors.New("topic: payload decode failed")
)
