package gemini

import "errors"

// ErrEmptyInput is returned when a generation method is called with no
// input text.
var ErrEmptyInput = errors.New("input text cannot be empty")
