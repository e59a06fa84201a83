package meme

import "errors"

var (
	// ErrNoImageSelected is returned when an operation needs an image and none is set.
	ErrNoImageSelected = errors.New("no image selected")
	// ErrInvalidFilter is returned for values outside the closed filter set.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrNetworkFailure marks a caption or finalize request that was rejected
	// or could not reach the service.
	ErrNetworkFailure = errors.New("network failure")
)
