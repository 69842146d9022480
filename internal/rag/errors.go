package rag

import (
	"errors"
	"fmt"
)

// ErrNoDocument is matched by a QueryError of kind NoDocument.
var ErrNoDocument = errors.New("no document has been ingested")

// QueryErrorKind classifies a failed question.
type QueryErrorKind int

const (
	NoDocument QueryErrorKind = iota
	EmbeddingFailure
	RetrievalFailure
	CompletionFailure
)

func (k QueryErrorKind) String() string {
	switch k {
	case NoDocument:
		return "no_document"
	case EmbeddingFailure:
		return "embedding_failure"
	case RetrievalFailure:
		return "retrieval_failure"
	case CompletionFailure:
		return "completion_failure"
	default:
		return "unknown"
	}
}

// QueryError is returned by Answer.
type QueryError struct {
	Kind QueryErrorKind
	Err  error
}

func (e *QueryError) Error() string {
	if e.Kind == NoDocument {
		return ErrNoDocument.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrNoDocument.
func (e *QueryError) Is(target error) bool {
	return target == ErrNoDocument && e.Kind == NoDocument
}

// KindOf returns the kind of a *QueryError in err's chain.
func KindOf(err error) (QueryErrorKind, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind, true
	}
	return 0, false
}
