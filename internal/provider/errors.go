package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned when a platform is unknown or lacks
	// the credentials it needs.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrGeneration wraps every backend failure during Chat.
	ErrGeneration = errors.New("generation failed")
)

type UnavailableError struct {
	Capability string
	Reason     string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Capability, e.Reason)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrCapabilityUnavailable
}

// Unavailable builds an *UnavailableError.
func Unavailable(capability, reason string) error {
	return &UnavailableError{Capability: capability, Reason: reason}
}

func generationErr(name string, err error) error {
	return fmt.Errorf("%s: %w: %w", name, ErrGeneration, err)
}
