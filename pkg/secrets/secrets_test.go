package secrets

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	op := Operation{Name: "mount PKI secrets engine", Accept: []int{204}, Exists: []int{400}}

	testCases := []struct {
		name   string
		status int
		ret    Outcome
	}{
		{"Accepted", 204, Success},
		{"Already mounted", 400, AlreadyExists},
		{"Forbidden", 403, AuthFailure},
		{"Not found", 404, NotFound},
		{"Unexpected success code", 200, OtherFailure},
		{"Server error", 500, OtherFailure},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("Testing %s", tc.name), func(t *testing.T) {
			out := op.Classify(tc.status)
			if out != tc.ret {
				t.Errorf("Got result is %s; want %s", out, tc.ret)
			}
		})
	}
}

func TestClassifyGlobalCodesWin(t *testing.T) {
	op := Operation{Accept: []int{403}, Exists: []int{404}}
	assert.Equal(t, AuthFailure, op.Classify(403))
	assert.Equal(t, NotFound, op.Classify(404))
}

func TestNewError(t *testing.T) {
	op := Operation{Name: "generate Root CA", Entity: "root-ca"}

	testCases := []struct {
		name    string
		outcome Outcome
		status  int
		target  error
		ret     string
	}{
		{"Success", Success, 200, nil, ""},
		{"Already exists", AlreadyExists, 400, nil, ""},
		{"Auth failure", AuthFailure, 403, ErrAuthFailure, "failed to authenticate to the Vault server: invalid token (generate Root CA: root-ca)"},
		{"Not found", NotFound, 404, ErrNotFound, "failed to process request: invalid path (generate Root CA: root-ca)"},
		{"Other failure", OtherFailure, 500, nil, "failed to generate Root CA: root-ca (status 500)"},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("Testing %s", tc.name), func(t *testing.T) {
			err := NewError(op, tc.outcome, tc.status)
			if tc.ret == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tc.ret)
			var oe *OperationError
			assert.True(t, errors.As(err, &oe))
			assert.Equal(t, tc.status, oe.Status)
			if tc.target != nil {
				assert.True(t, errors.Is(err, tc.target))
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Op: "check the Vault server health", Err: cause}
	assert.EqualError(t, err, "failed to contact the Vault server: connection refused")
	assert.True(t, errors.Is(err, cause))
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{
		Status: 200,
		Body: map[string]interface{}{
			"sealed": true,
			"data": map[string]interface{}{
				"csr":         "CSR",
				"private_key": nil,
				"serial":      42.0,
			},
		},
	}

	csr, ok := resp.DataString("csr")
	assert.True(t, ok)
	assert.Equal(t, "CSR", csr)

	_, ok = resp.DataString("private_key")
	assert.False(t, ok)
	_, ok = resp.DataString("serial")
	assert.False(t, ok)
	_, ok = resp.DataString("missing")
	assert.False(t, ok)

	assert.True(t, resp.Bool("sealed"))
	assert.False(t, resp.Bool("initialized"))

	empty := Response{Status: 204}
	assert.Nil(t, empty.Data())
	_, ok = empty.DataString("csr")
	assert.False(t, ok)
}
