package agent

import "errors"

// ErrEmptyMessage is returned when an exchange is started with blank input.
var ErrEmptyMessage = errors.New("empty user message")
