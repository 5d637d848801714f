package call

import "errors"

var (
	// ErrCallActive is returned by StartCall while another call is in progress.
	ErrCallActive = errors.New("a call is already active")

	// ErrNoPartner is returned for an empty or broadcast call target.
	ErrNoPartner = errors.New("call needs a single partner")

	// ErrSelfCall is returned when the target is the local user.
	ErrSelfCall = errors.New("cannot call yourself")

	// ErrNotConnected is returned when the connection is already closed.
	ErrNotConnected = errors.New("not connected")
)
