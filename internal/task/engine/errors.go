package engine

import "errors"

var (
	ErrStopped  = errors.New("command queue stopped")
	ErrStopping = errors.New("command queue stopping")
	ErrNilEvent = errors.New("command queue: nil event")
)
