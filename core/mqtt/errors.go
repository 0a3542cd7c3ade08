package mqtt

import "errors"

// ErrInvalidCommand is returned when a broker message is not a usable
// disruption command.
var ErrInvalidCommand = errors.New("invalid disruption command")
