package secrets

import (
	"context"
	"fmt"
)

// Outcome classifies the response of a remote operation.
type Outcome int

const (
	Success Outcome = iota
	AlreadyExists
	AuthFailure
	NotFound
	OtherFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AlreadyExists:
		return "already_exists"
	case AuthFailure:
		return "auth_failure"
	case NotFound:
		return "not_found"
	default:
		return "failure"
	}
}

// Operation is a single remote call issued on behalf of an entity.
type Operation struct {
	// Name describes the intent, e.g. "mount PKI secrets engine".
	Name   string
	Entity string
	Method string
	Path   string
	Body   interface{}
	// Accept lists the status codes meaning success.
	Accept []int
	// Exists lists the status codes meaning the target is already in the
	// desired state. They are not failures.
	Exists []int
}

// Classify maps a status code to an outcome for this operation. 403 and 404
// are recognised for every operation.
func (op Operation) Classify(status int) Outcome {
	switch status {
	case 403:
		return AuthFailure
	case 404:
		return NotFound
	}
	for _, s := range op.Exists {
		if s == status {
			return AlreadyExists
		}
	}
	for _, s := range op.Accept {
		if s == status {
			return Success
		}
	}
	return OtherFailure
}

// Response is the classified answer of the remote service.
type Response struct {
	Status  int
	Outcome Outcome
	Body    map[string]interface{}
}

// Data returns the "data" object of the response body, or nil.
func (r Response) Data() map[string]interface{} {
	if r.Body == nil {
		return nil
	}
	data, _ := r.Body["data"].(map[string]interface{})
	return data
}

// DataString returns a string field of the response data.
func (r Response) DataString(key string) (string, bool) {
	v, ok := r.Data()[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns a top level boolean field of the response body.
func (r Response) Bool(key string) bool {
	b, _ := r.Body[key].(bool)
	return b
}

// Secrets is the remote secrets management service. Do returns an error for
// every outcome other than Success and AlreadyExists.
type Secrets interface {
	GetSecretProviderName(ctx context.Context) string
	Do(ctx context.Context, op Operation) (Response, error)
}

// Middleware decorates a Secrets implementation.
type Middleware func(Secrets) Secrets

// Health is the state reported by the service health endpoint.
type Health struct {
	Initialized bool
	Sealed      bool
	Status      int
}

func (h Health) String() string {
	return fmt.Sprintf("initialized=%t sealed=%t", h.Initialized, h.Sealed)
}
