package manifest

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrMissingKVEngine is returned for an exported intermediate CA that does not
// declare where its private key must be stored.
var ErrMissingKVEngine = errors.New("kv_engine not defined for exported intermediate CA")

// ErrUnsupportedKind is returned for a document whose kind is not RootCA, IntermediateCA or KV.
var ErrUnsupportedKind = errors.New("unsupported schema defined in manifest file")

// FieldError identifies one offending field and the constraint it broke.
type FieldError struct {
	Field      string
	Constraint string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Constraint
	}
	return e.Field + ": " + e.Constraint
}

// ValidationError is returned when a manifest document fails schema
// validation or a cross-document rule.
type ValidationError struct {
	Kind string
	Name string
	Err  error
}

func (e *ValidationError) Error() string {
	subject := e.Kind
	if subject == "" {
		subject = "unknown"
	}
	if e.Name != "" {
		subject = fmt.Sprintf("%s '%s'", subject, e.Name)
	}
	if merr, ok := e.Err.(*multierror.Error); ok && len(merr.Errors) == 1 {
		return fmt.Sprintf("invalid %s manifest: %s", subject, merr.Errors[0])
	}
	return fmt.Sprintf("invalid %s manifest: %s", subject, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// fieldErrors collects field errors for a single document.
type fieldErrors struct {
	errs *multierror.Error
}

func (f *fieldErrors) add(field, constraint string) {
	f.errs = multierror.Append(f.errs, &FieldError{Field: field, Constraint: constraint})
}

func (f *fieldErrors) addErr(err error) {
	f.errs = multierror.Append(f.errs, err)
}

func (f *fieldErrors) addf(field, format string, args ...interface{}) {
	f.add(field, fmt.Sprintf(format, args...))
}

func (f *fieldErrors) err(kind, name string) error {
	if f.errs == nil {
		return nil
	}
	f.errs.ErrorFormat = listFormat
	return &ValidationError{Kind: kind, Name: name, Err: f.errs}
}

func listFormat(errs []error) string {
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}
