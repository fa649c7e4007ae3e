package llm

import "errors"

// ErrStreamPartiallyCompleted is returned with the accumulated partial
// content when a stream terminates before the provider finished.
var ErrStreamPartiallyCompleted = errors.New("stream partially completed")
