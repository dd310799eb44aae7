// Package validator checks operator input before it reaches a repository.
package validator

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"hooksync/internal/platform/models"
)

const eventIDPrefix = "evt_"

// MaxListLimit caps list endpoints.
const MaxListLimit = 500

func EventID(id string) error {
	if !strings.HasPrefix(id, eventIDPrefix) {
		return errors.New("event id must start with " + eventIDPrefix)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, eventIDPrefix)); err != nil {
		return errors.New("event id is not a valid identifier")
	}
	return nil
}

// Source accepts an empty value, meaning "any source".
func Source(source string) error {
	if source == "" || models.IsSource(source) {
		return nil
	}
	return errors.New("unknown source: " + source)
}

// EventStatus accepts an empty value, meaning "any status".
func EventStatus(status string) error {
	switch status {
	case "", models.EventPending, models.EventProcessing, models.EventDone, models.EventError, models.EventSkipped:
		return nil
	}
	return errors.New("unknown event status: " + status)
}

// SyncStatus accepts an empty value, meaning "any status".
func SyncStatus(status string) error {
	switch status {
	case "", models.SyncSuccess, models.SyncError, models.SyncSkipped:
		return nil
	}
	return errors.New("unknown sync status: " + status)
}

// Limit parses a list limit. Empty means def.
func Limit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxListLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(MaxListLimit))
	}
	return n, nil
}

// Reason trims an operator-supplied note and rejects blank or oversized ones.
func Reason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", errors.New("reason is required")
	}
	if len(reason) > 500 {
		return "", errors.New("reason must be at most 500 characters")
	}
	return reason, nil
}
