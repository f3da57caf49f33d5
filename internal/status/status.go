// Package status implements the content lifecycle state machine.
package status

import (
	"errors"
	"fmt"
	"strings"

	"postgate/internal/model"
)

// ErrInvalidTransition is returned when a lifecycle move is not in the transition table.
var ErrInvalidTransition = errors.New("INVALID_STATE_TRANSITION")

var transitions = map[model.Status][]model.Status{
	model.StatusDraft:         {model.StatusNeedsApproval},
	model.StatusNeedsApproval: {model.StatusApproved, model.StatusRejected, model.StatusDraft},
	model.StatusApproved:      {model.StatusScheduled, model.StatusNeedsApproval, model.StatusRejected},
	model.StatusScheduled:     {model.StatusPosted, model.StatusFailed, model.StatusNeedsApproval},
	model.StatusFailed:        {model.StatusScheduled, model.StatusNeedsApproval},
	model.StatusRejected:      {model.StatusNeedsApproval, model.StatusDraft},
}

// All lists the seven canonical states.
var All = []model.Status{
	model.StatusDraft,
	model.StatusNeedsApproval,
	model.StatusApproved,
	model.StatusScheduled,
	model.StatusPosted,
	model.StatusFailed,
	model.StatusRejected,
}

// IsValidTransition reports whether from -> to is a legal lifecycle move.
func IsValidTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns a wrapped ErrInvalidTransition when illegal.
func Transition(from, to model.Status) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanPublish reports whether content in the given state may be pushed to a platform.
func CanPublish(s model.Status) bool {
	return s == model.StatusScheduled || s == model.StatusApproved
}

// IsCanonical reports whether s is one of the seven defined states.
func IsCanonical(s model.Status) bool {
	for _, known := range All {
		if s == known {
			return true
		}
	}
	return false
}

// MapLegacyStatus normalizes a stored status string into the canonical enum.
// Historical lowercase values are mapped; anything unrecognized becomes DRAFT,
// which can never be published.
func MapLegacyStatus(raw string) model.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "needs_approval":
		return model.StatusNeedsApproval
	case "scheduled":
		return model.StatusScheduled
	case "posted":
		return model.StatusPosted
	case "rejected":
		return model.StatusRejected
	case "failed":
		return model.StatusFailed
	case "approved":
		return model.StatusApproved
	default:
		return model.StatusDraft
	}
}
