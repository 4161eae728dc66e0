package graph

import (
	"errors"
	"testing"
)

func TestKindOfNodeError(t *testing.T) {
	err := &NodeError{Message: "rate limited", Kind: KindTransient, NodeID: "n1"}
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf = %v, want KindTransient", KindOf(err))
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("errors.Is(err, ErrTransient) = false, want true")
	}
	if !Retryable(err) {
		t.Errorf("Retryable(err) = false, want true")
	}
}

func TestKindOfSentinel(t *testing.T) {
	if KindOf(ErrCyclicGraph) != KindCyclicGraph {
		t.Errorf("KindOf(ErrCyclicGraph) = %v", KindOf(ErrCyclicGraph))
	}
	if Retryable(ErrCyclicGraph) {
		t.Errorf("Retryable(ErrCyclicGraph) = true, want false")
	}
}

func TestKindOfUnknownFallsBackToInternal(t *testing.T) {
	plain := errors.New("boom")
	if KindOf(plain) != KindInternal {
		t.Errorf("KindOf(plain) = %v, want KindInternal", KindOf(plain))
	}
}

func TestNodeErrorUnwrap(t *testing.T) {
	cause := errors.New("socket reset")
	err := &NodeError{Message: "call failed", Kind: KindTransient, Cause: cause}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}
