package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// VerifyError is a failure that ends a verification request with a specific HTTP response.
type VerifyError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Error codes, also used as the outcome label on verification metrics.
const (
	MissingCode          = "missing_code"
	ProviderDenied       = "provider_denied"
	Misconfigured        = "misconfigured"
	ReputationRejected   = "reputation_rejected"
	TokenExchangeFailed  = "token_exchange_failed"
	ProfileFetchFailed   = "profile_fetch_failed"
	RoleAssignmentFailed = "role_assignment_failed"
	ServerError          = "server_error"
	RateLimited          = "rate_limited"
)

// ReputationRejectedMessage is shown to users whose connection was flagged.
const ReputationRejectedMessage = "VPN, proxy or high-risk connection detected. Please disable it and try again."

func NewMissingCode() *VerifyError {
	return &VerifyError{
		Status:  http.StatusBadRequest,
		Code:    MissingCode,
		Message: "Missing code",
	}
}

// NewProviderDenied covers Discord redirecting back with ?error=..., e.g. when the user cancels.
func NewProviderDenied(code, description string) *VerifyError {
	msg := "Authorization denied: " + code
	if description != "" {
		msg += " (" + description + ")"
	}
	return &VerifyError{
		Status:  http.StatusBadRequest,
		Code:    ProviderDenied,
		Message: msg,
	}
}

func NewMisconfigured(err error) *VerifyError {
	return &VerifyError{
		Status:  http.StatusInternalServerError,
		Code:    Misconfigured,
		Message: "Server misconfigured",
		Err:     err,
	}
}

func NewReputationRejected(reason string) *VerifyError {
	return &VerifyError{
		Status:  http.StatusForbidden,
		Code:    ReputationRejected,
		Message: ReputationRejectedMessage,
		Err:     stderrors.New(reason),
	}
}

// NewTokenExchangeFailed echoes the raw token endpoint response for diagnostics.
func NewTokenExchangeFailed(upstreamBody string) *VerifyError {
	return &VerifyError{
		Status:  http.StatusBadRequest,
		Code:    TokenExchangeFailed,
		Message: "Failed to get access token: " + upstreamBody,
	}
}

func NewProfileFetchFailed(err error) *VerifyError {
	return &VerifyError{
		Status:  http.StatusInternalServerError,
		Code:    ProfileFetchFailed,
		Message: "Failed to fetch user profile",
		Err:     err,
	}
}

// NewRoleAssignmentFailed echoes the Discord error body for diagnostics.
func NewRoleAssignmentFailed(upstreamBody string, err error) *VerifyError {
	return &VerifyError{
		Status:  http.StatusInternalServerError,
		Code:    RoleAssignmentFailed,
		Message: "Failed to assign role: " + upstreamBody,
		Err:     err,
	}
}

func NewRateLimited() *VerifyError {
	return &VerifyError{
		Status:  http.StatusTooManyRequests,
		Code:    RateLimited,
		Message: "Too many requests",
	}
}

func NewServerError(err error) *VerifyError {
	return &VerifyError{
		Status:  http.StatusInternalServerError,
		Code:    ServerError,
		Message: "Server error",
		Err:     err,
	}
}

// FromError returns the VerifyError in err's chain, or a generic server error.
func FromError(err error) *VerifyError {
	var ve *VerifyError
	if stderrors.As(err, &ve) {
		return ve
	}
	return NewServerError(err)
}
