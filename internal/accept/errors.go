package accept

import (
	"errors"
	"fmt"
)

// Code is the rejection category surfaced to the embedder and to sync
// counters.
type Code string

const (
	CodeEncodingInvalid  Code = "encoding_invalid"
	CodeIDMismatch       Code = "id_mismatch"
	CodeSignatureInvalid Code = "signature_invalid"
	CodeDelegationWindow Code = "delegation_window"
	CodeScopeMissing     Code = "delegation_scope_missing"
	CodeInviteInvalid    Code = "invite_invalid"
	CodeInviteExpired    Code = "invite_expired"
	CodePoWInsufficient  Code = "pow_insufficient"
	CodeNotAMember       Code = "not_a_member"
	CodeBanned           Code = "banned"
	CodeLimitsExceeded   Code = "limits_exceeded"
)

// Rejection is a categorized acceptance failure. The wrapped error
// keeps the specific cause for logs; Code is stable for counters and
// UI.
type Rejection struct {
	Code Code
	Err  error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %v", r.Code, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(code Code, err error) error {
	return &Rejection{Code: code, Err: err}
}

func rejectf(code Code, format string, args ...any) error {
	return &Rejection{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the rejection code, or empty for nil / uncategorized
// errors.
func CodeOf(err error) Code {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}
