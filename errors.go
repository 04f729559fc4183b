package vocconv

import (
	"errors"
	"fmt"
)

// ErrInconsistentAnnotation is wrapped by errors for documents that were parsed successfully,
// but do not describe a usable annotation, e.g. because the image size is missing.
var ErrInconsistentAnnotation = errors.New("inconsistent annotation")

// ParseError is returned when a label file cannot be read or parsed.
type ParseError struct {
	Path string // The file path, if known.
	Line int    // The 1-based line number for line oriented formats, zero otherwise.
	Err  error
}

func (e *ParseError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("cannot parse %q, line %d: %v", e.Path, e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("cannot parse %q: %v", e.Path, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("cannot parse line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("cannot parse annotation: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// withPath sets the path of a *ParseError in err, if it does not have one yet. Other errors are
// returned unchanged.
func withPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	return err
}
