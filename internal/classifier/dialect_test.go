package classifier

import (
	"errors"
	"testing"

	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/testutil"
)

func TestDetectDialect(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		expected string
	}{
		{"none", nil, "inferred"},
		{"legacy", []string{"Data/Status.xml"}, "legacy"},
		{"current", []string{"Data/reports/Status.xml"}, "current"},
		{"both prefers legacy", []string{"Data/Status.xml", "Data/reports/Status.xml"}, "legacy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rd := testutil.NewRunDir(t, "run").Touch(tt.files...)
			if got := DetectDialect(rd.Path).Name(); got != tt.expected {
				t.Errorf("DetectDialect() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestInferredRules(t *testing.T) {
	tests := []struct {
		name     string
		ev       Evidence
		expected models.RunState
	}{
		{"reads and last cycle", Evidence{ReadsComplete: true, LastCycle: true}, models.StateCompleted},
		{"reads and last cycle ignore failure", Evidence{ReadsComplete: true, LastCycle: true, Failed: true}, models.StateCompleted},
		{"reads without last cycle", Evidence{ReadsComplete: true, Aggregate: true}, models.StateUnknown},
		{"reads without last cycle, failed", Evidence{ReadsComplete: true, Failed: true}, models.StateFailed},
		{"override", Evidence{Override: true, Failed: true}, models.StateCompleted},
		{"running", Evidence{RunInfoPresent: true}, models.StateRunning},
		{"running, failed", Evidence{RunInfoPresent: true, Failed: true}, models.StateFailed},
		{"no run info", Evidence{}, models.StateUnknown},
		{"aggregate without reads", Evidence{RunInfoPresent: true, Aggregate: true}, models.StateUnknown},
		{"last cycle without reads", Evidence{RunInfoPresent: true, LastCycle: true}, models.StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(Inferred{}, tt.ev)
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Inferred(%+v) = %s, want %s", tt.ev, got, tt.expected)
			}
		})
	}
}

func TestCurrentRules(t *testing.T) {
	tests := []struct {
		name     string
		ev       Evidence
		expected models.RunState
	}{
		{"reads and counters agree", Evidence{ReadsComplete: true}, models.StateCompleted},
		{"reads, mismatch", Evidence{ReadsComplete: true, CyclesMismatch: true}, models.StateUnknown},
		{"reads, mismatch, failed", Evidence{ReadsComplete: true, CyclesMismatch: true, Failed: true}, models.StateFailed},
		{"override", Evidence{Override: true, CyclesMismatch: true}, models.StateCompleted},
		{"running", Evidence{CyclesMismatch: true}, models.StateRunning},
		{"running, failed", Evidence{CyclesMismatch: true, Failed: true}, models.StateFailed},
		{"aggregate, mismatch", Evidence{Aggregate: true, CyclesMismatch: true}, models.StateUnknown},
		{"no reads, counters agree", Evidence{}, models.StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decide(Current{}, tt.ev)
			if got != tt.expected {
				t.Errorf("Current(%+v) = %s, want %s", tt.ev, got, tt.expected)
			}
		})
	}
}

func TestLegacyRules(t *testing.T) {
	tests := []struct {
		name     string
		ev       Evidence
		expected models.RunState
	}{
		{"override", Evidence{Override: true, Failed: true}, models.StateCompleted},
		{"completion date", Evidence{HasCompletionDate: true, Failed: true}, models.StateCompleted},
		{"failed", Evidence{Failed: true, ReadsComplete: true}, models.StateFailed},
		{"running", Evidence{ReadsComplete: true, Aggregate: true}, models.StateRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decide(Legacy{}, tt.ev)
			if got != tt.expected {
				t.Errorf("Legacy(%+v) = %s, want %s", tt.ev, got, tt.expected)
			}
		})
	}
}

func TestDecide_Unreachable(t *testing.T) {
	_, err := Decide(nil, Evidence{})
	if !errors.Is(err, ErrUnreachableDialect) {
		t.Errorf("Expected ErrUnreachableDialect, got %v", err)
	}
}
