package controller

import "errors"

var (
	// ErrBusy is returned by Submit when the inbound queue is full.
	ErrBusy = errors.New("controller: inbound queue full")

	// ErrStopped is returned by Submit after Run has returned.
	ErrStopped = errors.New("controller: stopped")
)
