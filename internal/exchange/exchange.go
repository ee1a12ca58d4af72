// Package exchange implements the token-exchange handler (spec §4.5,
// component C5): RFC 8693 semantics, dispatching to a subject-token
// validator by type and minting an LWS access token from the resulting
// Principal.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/jeswr/lws-core/internal/accesstoken"
	"github.com/jeswr/lws-core/internal/validator"
)

// GrantType is the only grant type this handler accepts (spec §4.5).
const GrantType = "urn:ietf:params:oauth:grant-type:token-exchange"

// RequestedTokenType, if present, must equal this value (spec §4.5).
const RequestedTokenType = "urn:ietf:params:oauth:token-type:access_token"

// ErrorCode is the exchange-error taxonomy of spec §7.
type ErrorCode string

const (
	ErrorInvalidRequest       ErrorCode = "invalid_request"
	ErrorInvalidGrant         ErrorCode = "invalid_grant"
	ErrorUnsupportedTokenType ErrorCode = "unsupported_token_type"
	ErrorServerError          ErrorCode = "server_error"
)

// Error is a structured exchange failure mapped directly to the wire error
// response.
type Error struct {
	Code        ErrorCode
	Description string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Description) }

// Request is the form-decoded input of spec §4.5.
type Request struct {
	GrantType          string
	SubjectToken       string
	SubjectTokenType   string
	Resource           string
	RequestedTokenType string
	Scope              string
}

// Response is the JSON body returned on success (spec §4.5 step 6).
type Response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Handler wires a validator registry to an access-token minter.
type Handler struct {
	Registry           *validator.Registry
	Minter             *accesstoken.Minter
	Realm              string
	ClockSkewTolerance time.Duration
}

// Exchange implements spec §4.5's algorithm end to end.
func (h *Handler) Exchange(ctx context.Context, req Request) (Response, *Error) {
	if req.GrantType != GrantType {
		return Response{}, &Error{Code: ErrorInvalidRequest, Description: "unsupported grant_type"}
	}
	if req.RequestedTokenType != "" && req.RequestedTokenType != RequestedTokenType {
		return Response{}, &Error{Code: ErrorInvalidRequest, Description: "unsupported requested_token_type"}
	}
	if req.Resource == "" {
		return Response{}, &Error{Code: ErrorInvalidRequest, Description: "resource is required"}
	}

	v, ok := h.Registry.Lookup(req.SubjectTokenType)
	if !ok {
		return Response{}, &Error{Code: ErrorInvalidRequest, Description: "Unsupported subject_token_type"}
	}

	principal, err := v.Validate(ctx, req.SubjectToken, validator.Options{
		Realm:              h.Realm,
		ClockSkewTolerance: h.ClockSkewTolerance,
	})
	if err != nil {
		return Response{}, &Error{Code: ErrorInvalidGrant, Description: truncate(err.Error(), 200)}
	}

	token, expiresIn, mintErr := h.Minter.Mint(accesstoken.MintInput{
		Subject:        principal.Subject,
		ClientID:       principal.ClientID,
		Resource:       req.Resource,
		AuthSuite:      principal.AuthSuite,
		SubjectTokenID: principal.SubjectTokenID,
	})
	if mintErr != nil {
		return Response{}, &Error{Code: ErrorServerError, Description: "failed to mint access token"}
	}

	return Response{AccessToken: token, TokenType: "Bearer", ExpiresIn: expiresIn}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
