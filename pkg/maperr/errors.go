package maperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Match with errors.Is against any error returned by the
// map pipeline or the query layer.
var (
	ErrMalformedDocument       = errors.New("malformed document")
	ErrSchemaViolation         = errors.New("schema violation")
	ErrDanglingReference       = errors.New("dangling reference")
	ErrDegenerateGeometry      = errors.New("degenerate geometry")
	ErrInconsistentTopology    = errors.New("inconsistent topology")
	ErrInvalidProjectionConfig = errors.New("invalid projection config")
	ErrInputTooLarge           = errors.New("input too large")

	// ErrUnknownLanelet is a caller error, not a map-integrity error.
	ErrUnknownLanelet = errors.New("unknown lanelet")
)

// Error carries the diagnostic context of a failed load or query.
type Error struct {
	Kind     error  // one of the sentinels above
	Element  string // element type, e.g. "lanelet", "way", "regulatory_element"
	ID       int64  // offending element id (0 when not applicable)
	Ref      string // the unresolved reference, for dangling references
	Location string // byte offset or line, when known
	Reason   string
	Err      error // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Element != "" {
		fmt.Fprintf(&b, ": %s %d", e.Element, e.ID)
	}
	if e.Ref != "" {
		fmt.Fprintf(&b, " references missing %s", e.Ref)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, " at %s", e.Location)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Malformed returns an ErrMalformedDocument error.
func Malformed(location, reason string, cause error) *Error {
	return &Error{Kind: ErrMalformedDocument, Location: location, Reason: reason, Err: cause}
}

// Schema returns an ErrSchemaViolation error for the given element.
func Schema(element string, id int64, reason string) *Error {
	return &Error{Kind: ErrSchemaViolation, Element: element, ID: id, Reason: reason}
}

// Dangling returns an ErrDanglingReference error. ref names the missing
// target, e.g. "lanelet 99".
func Dangling(element string, id int64, ref string) *Error {
	return &Error{Kind: ErrDanglingReference, Element: element, ID: id, Ref: ref}
}

// Degenerate returns an ErrDegenerateGeometry error.
func Degenerate(element string, id int64, reason string) *Error {
	return &Error{Kind: ErrDegenerateGeometry, Element: element, ID: id, Reason: reason}
}

// Topology returns an ErrInconsistentTopology error.
func Topology(id int64, reason string) *Error {
	return &Error{Kind: ErrInconsistentTopology, Element: "lanelet", ID: id, Reason: reason}
}

// Projection returns an ErrInvalidProjectionConfig error.
func Projection(reason string) *Error {
	return &Error{Kind: ErrInvalidProjectionConfig, Reason: reason}
}

// TooLarge returns an ErrInputTooLarge error.
func TooLarge(size, limit int) *Error {
	return &Error{Kind: ErrInputTooLarge, Reason: fmt.Sprintf("%d bytes exceeds limit of %d", size, limit)}
}

// UnknownLanelet returns an ErrUnknownLanelet error.
func UnknownLanelet(id int64) *Error {
	return &Error{Kind: ErrUnknownLanelet, Element: "lanelet", ID: id}
}
