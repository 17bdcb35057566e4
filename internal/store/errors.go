package store

import (
	"errors"
	"fmt"
)

// ErrorCode discriminates graph store failures that callers are expected to
// handle, as opposed to storage or transport failures which propagate as-is.
type ErrorCode string

const (
	CodeNodeNotFound  ErrorCode = "NODE_NOT_FOUND"
	CodeEdgeNotFound  ErrorCode = "EDGE_NOT_FOUND"
	CodeDuplicateEdge ErrorCode = "DUPLICATE_EDGE"
	CodeSelfReference ErrorCode = "SELF_REFERENCE"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
)

// GraphError is returned for domain-level rejections. Two GraphErrors match
// under errors.Is when their codes are equal, so the sentinels below can be
// used regardless of the id carried.
type GraphError struct {
	Code    ErrorCode
	Message string
	// ID is the node or edge id the error refers to, when there is one.
	ID  string
	Err error
}

func (e *GraphError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrNodeNotFound  = &GraphError{Code: CodeNodeNotFound, Message: "node not found"}
	ErrEdgeNotFound  = &GraphError{Code: CodeEdgeNotFound, Message: "edge not found"}
	ErrDuplicateEdge = &GraphError{Code: CodeDuplicateEdge, Message: "an edge with the same source, target and type already exists"}
	ErrSelfReference = &GraphError{Code: CodeSelfReference, Message: "an edge cannot connect a node to itself"}
	ErrInvalidInput  = &GraphError{Code: CodeInvalidInput, Message: "invalid input"}
)

func nodeNotFound(id string) error {
	return &GraphError{Code: CodeNodeNotFound, Message: "node not found", ID: id}
}

func duplicateEdge(source, target, edgeType string, cause error) error {
	return &GraphError{
		Code:    CodeDuplicateEdge,
		Message: fmt.Sprintf("edge %s -[%s]-> %s already exists", source, edgeType, target),
		Err:     cause,
	}
}

func selfReference(id string, cause error) error {
	return &GraphError{Code: CodeSelfReference, Message: "an edge cannot connect a node to itself", ID: id, Err: cause}
}

func invalidInput(msg string) error {
	return &GraphError{Code: CodeInvalidInput, Message: msg}
}

// CodeOf returns the ErrorCode carried anywhere in err's chain, or "" when err
// is not a GraphError.
func CodeOf(err error) ErrorCode {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
