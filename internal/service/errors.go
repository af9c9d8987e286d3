// Package service implements the SOC incident state machine and the ticket
// lifecycle on top of the stores and the event bus.
package service

import "errors"

// Error kinds raised by the domain services. The HTTP adapter maps them to
// status codes with errors.Is.
var (
	// ErrNotFound: the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownState: the requested target state is not a node of the FSM.
	ErrUnknownState = errors.New("unknown state")
	// ErrCorruptState: the stored current state is not a node of the FSM.
	ErrCorruptState = errors.New("corrupt stored state")
	// ErrInvalidTransition: no FSM edge from the current state to the target.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConcurrentModification: the compare-and-swap update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvalidArgument: required input missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")
)
