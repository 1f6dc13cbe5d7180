package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxInputLength   = 4000
	maxDigitsLength  = 32
	maxTaskIDLength  = 128
	maxTransferChars = 32
)

// ValidateInput validates free text typed by the user.
func ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("text cannot be empty")
	}
	if len(text) > maxInputLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session handle.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateTaskID validates a backend task id.
func ValidateTaskID(id string) error {
	if id == "" {
		return errors.New("task ID cannot be empty")
	}
	if len(id) > maxTaskIDLength || strings.ContainsAny(id, "/?#") {
		return errors.New("invalid task ID format")
	}
	return nil
}

// ValidateDigits validates a touch-tone sequence.
func ValidateDigits(digits string) error {
	if digits == "" {
		return errors.New("digits cannot be empty")
	}
	if len(digits) > maxDigitsLength {
		return errors.New("digits exceed maximum length")
	}
	for _, r := range digits {
		if !strings.ContainsRune("0123456789*#w", r) {
			return errors.New("digits may only contain 0-9, * and #")
		}
	}
	return nil
}

// ValidateTransferTarget validates a transfer phone number.
func ValidateTransferTarget(target string) error {
	if target == "" {
		return errors.New("target cannot be empty")
	}
	if len(target) > maxTransferChars {
		return errors.New("target exceeds maximum length")
	}
	for _, r := range target {
		if !strings.ContainsRune("0123456789+()-. ", r) {
			return errors.New("target must be a phone number")
		}
	}
	return nil
}
