package model

import "fmt"

// ProcessingState tracks a photo through the sync workflow.
// The lifecycle is linear: discovered -> resolved -> replicated.
type ProcessingState string

const (
	StateDiscovered ProcessingState = "discovered"
	StateResolved   ProcessingState = "resolved"
	StateReplicated ProcessingState = "replicated"
)

// ProcessingStates lists every state in lifecycle order.
var ProcessingStates = []ProcessingState{StateDiscovered, StateResolved, StateReplicated}

// ParseProcessingState rejects anything outside the closed set.
func ParseProcessingState(s string) (ProcessingState, error) {
	switch ProcessingState(s) {
	case StateDiscovered, StateResolved, StateReplicated:
		return ProcessingState(s), nil
	}
	return "", fmt.Errorf("unknown processing state %q", s)
}

func (s ProcessingState) rank() int {
	switch s {
	case StateDiscovered:
		return 0
	case StateResolved:
		return 1
	case StateReplicated:
		return 2
	}
	return -1
}

// VisibilityLevel is a canonical visibility setting.
type VisibilityLevel string

const (
	VisibilityPrivate VisibilityLevel = "private"
	VisibilityFriends VisibilityLevel = "friends"
	VisibilityPublic  VisibilityLevel = "public"
)

// ParseVisibilityLevel rejects anything outside the closed set.
func ParseVisibilityLevel(s string) (VisibilityLevel, error) {
	switch VisibilityLevel(s) {
	case VisibilityPrivate, VisibilityFriends, VisibilityPublic:
		return VisibilityLevel(s), nil
	}
	return "", fmt.Errorf("unknown visibility level %q", s)
}

// Quality describes how faithful a service's copy is to the original.
type Quality string

const (
	QualityOriginal Quality = "original"
	QualityHigh     Quality = "high"
	QualityMedium   Quality = "medium"
	QualityLow      Quality = "low"
)

// ParseQuality rejects anything outside the closed set.
func ParseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case QualityOriginal, QualityHigh, QualityMedium, QualityLow:
		return Quality(s), nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}
