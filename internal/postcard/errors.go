package postcard

import (
	"errors"
	"fmt"
	"strings"
)

// FetchErrorKind classifies data source failures.
type FetchErrorKind string

const (
	FetchUnreachable FetchErrorKind = "unreachable"
	FetchMalformed   FetchErrorKind = "malformed"
)

// FetchError is returned by the data source client.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s kind=%s", e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches any FetchError of the same kind.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind
}

// SelectionErrorKind classifies region/artwork selection failures.
type SelectionErrorKind string

const (
	SelectionOutOfRange SelectionErrorKind = "out_of_range"
	SelectionNoArtwork  SelectionErrorKind = "no_artwork"
)

// SelectionError is returned by the region selector.
type SelectionError struct {
	Kind      SelectionErrorKind
	Region    string
	Available int
}

func (e *SelectionError) Error() string {
	switch e.Kind {
	case SelectionOutOfRange:
		return fmt.Sprintf("region %s not available in %d measurements", e.Region, e.Available)
	case SelectionNoArtwork:
		return "artwork query returned no results"
	default:
		return fmt.Sprintf("selection failed kind=%s", e.Kind)
	}
}

// Is matches any SelectionError of the same kind.
func (e *SelectionError) Is(target error) bool {
	t, ok := target.(*SelectionError)
	return ok && t.Kind == e.Kind
}

// DispatchError wraps whatever stopped a fan-out. No sub-jobs accompany it.
type DispatchError struct {
	ClientID string
	Step     string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch client_id=%s step=%s: %v", e.ClientID, e.Step, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// AnnotateErrorKind classifies image annotation failures.
type AnnotateErrorKind string

const (
	AnnotateDownloadFailed AnnotateErrorKind = "download_failed"
	AnnotateDecodeFailed   AnnotateErrorKind = "decode_failed"
	AnnotateRenderFailed   AnnotateErrorKind = "render_failed"
)

// AnnotateError is returned by the image annotator.
type AnnotateError struct {
	Kind AnnotateErrorKind
	URL  string
	Err  error
}

func (e *AnnotateError) Error() string {
	return fmt.Sprintf("annotate %s kind=%s: %v", e.URL, e.Kind, e.Err)
}

func (e *AnnotateError) Unwrap() error { return e.Err }

// Is matches any AnnotateError of the same kind.
func (e *AnnotateError) Is(target error) bool {
	t, ok := target.(*AnnotateError)
	return ok && t.Kind == e.Kind
}

// StoreErrorKind classifies storage write failures.
type StoreErrorKind string

const (
	StoreContainerMissing StoreErrorKind = "container_missing"
	StoreWriteFailed      StoreErrorKind = "write_failed"
)

// StoreError is returned by the storage writer.
type StoreError struct {
	Kind      StoreErrorKind
	Container string
	Object    string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store container=%s object=%s kind=%s: %v", e.Container, e.Object, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches any StoreError of the same kind.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Kind == e.Kind
}

// RetrievalErrorKind classifies retrieval failures a caller can act on.
type RetrievalErrorKind string

const (
	RetrievalInvalidID RetrievalErrorKind = "invalid_id"
	RetrievalNotFound  RetrievalErrorKind = "not_found"
)

// RetrievalError is returned by the retrieval service for caller mistakes.
// Backend failures are returned as plain wrapped errors.
type RetrievalError struct {
	Kind     RetrievalErrorKind
	ClientID string
}

func (e *RetrievalError) Error() string {
	switch e.Kind {
	case RetrievalInvalidID:
		if e.ClientID == "" {
			return "no ID was provided"
		}
		return fmt.Sprintf("ID %q does not meet the minimum length (%d)", e.ClientID, MinClientIDLength)
	case RetrievalNotFound:
		return fmt.Sprintf("no storage container found for ID: %s", e.ClientID)
	default:
		return fmt.Sprintf("retrieval failed kind=%s", e.Kind)
	}
}

// Is matches any RetrievalError of the same kind.
func (e *RetrievalError) Is(target error) bool {
	t, ok := target.(*RetrievalError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrUnreachable      = &FetchError{Kind: FetchUnreachable}
	ErrMalformed        = &FetchError{Kind: FetchMalformed}
	ErrOutOfRange       = &SelectionError{Kind: SelectionOutOfRange}
	ErrNoArtwork        = &SelectionError{Kind: SelectionNoArtwork}
	ErrDownloadFailed   = &AnnotateError{Kind: AnnotateDownloadFailed}
	ErrDecodeFailed     = &AnnotateError{Kind: AnnotateDecodeFailed}
	ErrContainerMissing = &StoreError{Kind: StoreContainerMissing}
	ErrWriteFailed      = &StoreError{Kind: StoreWriteFailed}
	ErrInvalidID        = &RetrievalError{Kind: RetrievalInvalidID}
	ErrNotFound         = &RetrievalError{Kind: RetrievalNotFound}
)

// ErrorCode maps a pipeline error to the upper-case code recorded in client status.
func ErrorCode(err error) string {
	var (
		fetchErr     *FetchError
		selectionErr *SelectionError
		annotateErr  *AnnotateError
		storeErr     *StoreError
		retrievalErr *RetrievalError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fetchErr):
		return "FETCH_" + strings.ToUpper(string(fetchErr.Kind))
	case errors.As(err, &selectionErr):
		return "SELECTION_" + strings.ToUpper(string(selectionErr.Kind))
	case errors.As(err, &annotateErr):
		return "ANNOTATE_" + strings.ToUpper(string(annotateErr.Kind))
	case errors.As(err, &storeErr):
		return "STORE_" + strings.ToUpper(string(storeErr.Kind))
	case errors.As(err, &retrievalErr):
		return "RETRIEVAL_" + strings.ToUpper(string(retrievalErr.Kind))
	default:
		return "PROCESSING_FAILED"
	}
}
