// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when an outbound message converts to no
	// elements and no summary.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNotFound is returned when a message or file looked up by id does not
	// exist.
	ErrNotFound = errors.New("not found")

	ErrQRExpired       = errors.New("QR code expired")
	ErrQRCancelled     = errors.New("QR code login cancelled")
	ErrSliderTimeout   = errors.New("timed out waiting for a slider ticket")
	ErrRelayClosed     = errors.New("slider relay closed before a ticket arrived")
	ErrChallengeActive = errors.New("another login challenge is in progress")
)

// BoolCommandError is returned when a client command reports failure with a
// false result instead of an error.
type BoolCommandError struct {
	Action string
}

func (e *BoolCommandError) Error() string {
	return fmt.Sprintf("%s failed", e.Action)
}

// checkBool turns the result of a boolean client command into an error.
func checkBool(action string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if !ok {
		return &BoolCommandError{Action: action}
	}
	return nil
}
