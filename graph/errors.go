package graph

import (
	"errors"
	"fmt"
)

// ErrKind is the closed classification the scheduler and façade use to
// decide whether a failure is retryable, terminal, or an invariant
// violation in the engine itself.
type ErrKind string

const (
	KindUnknownNodeType ErrKind = "unknown_node_type"
	KindCyclicGraph     ErrKind = "cyclic_graph"
	KindMissingInput    ErrKind = "missing_input"
	KindNodeValidation  ErrKind = "node_validation"
	KindTransient       ErrKind = "transient"
	KindPermanent       ErrKind = "permanent"
	KindSecretNotFound  ErrKind = "secret_not_found"
	KindCancelled       ErrKind = "cancelled"
	KindTimeout         ErrKind = "timeout"
	KindInternal        ErrKind = "internal"
)

var (
	ErrUnknownNodeType = errors.New("graph: unknown node type")
	ErrCyclicGraph     = errors.New("graph: workflow contains a cycle")
	ErrMissingInput    = errors.New("graph: required input missing")
	ErrNodeValidation  = errors.New("graph: node failed validation")
	ErrSecretNotFound  = errors.New("graph: secret could not be resolved")
	ErrCancelled       = errors.New("graph: execution cancelled")
	ErrTimeout         = errors.New("graph: execution timed out")
	ErrInternal        = errors.New("graph: internal engine error")
)

// NodeError is the structured error a node implementation (or the
// scheduler acting on its behalf) returns. It wraps a sentinel Kind so
// callers can classify the failure with errors.Is/errors.As without
// string matching.
type NodeError struct {
	Message string
	Kind    ErrKind
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	}
	return e.Message
}

func (e *NodeError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrTransient)-style checks work against the
// sentinel that matches this error's Kind.
func (e *NodeError) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

func sentinelFor(k ErrKind) error {
	switch k {
	case KindUnknownNodeType:
		return ErrUnknownNodeType
	case KindCyclicGraph:
		return ErrCyclicGraph
	case KindMissingInput:
		return ErrMissingInput
	case KindNodeValidation:
		return ErrNodeValidation
	case KindTransient:
		return ErrTransient
	case KindPermanent:
		return ErrPermanent
	case KindSecretNotFound:
		return ErrSecretNotFound
	case KindCancelled:
		return ErrCancelled
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ErrTransient and ErrPermanent classify node execution failures for the
// scheduler's retry decision: transient failures are retried (up to the
// node's or engine's retry budget), permanent failures are not.
var (
	ErrTransient = errors.New("graph: transient node failure")
	ErrPermanent = errors.New("graph: permanent node failure")
)

// KindOf classifies err using errors.As against NodeError first, then
// falls back to sentinel matching, then KindInternal for anything
// unrecognized.
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	switch {
	case errors.Is(err, ErrUnknownNodeType):
		return KindUnknownNodeType
	case errors.Is(err, ErrCyclicGraph):
		return KindCyclicGraph
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrNodeValidation):
		return KindNodeValidation
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrSecretNotFound):
		return KindSecretNotFound
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindInternal
	}
}

// Retryable reports whether the scheduler should retry a node that
// failed with err.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// EngineError represents an engine-level (not node-level) failure: DAG
// validation, registry lookup, or a scheduler invariant violation.
type EngineError struct {
	Message string
	Kind    ErrKind
	Cause   error
}

func (e *EngineError) Error() string { return e.Message }
func (e *EngineError) Unwrap() error { return e.Cause }
func (e *EngineError) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}
