package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	// Unknown ids are reported as a generic invalid link so callers cannot
	// probe for existence.
	ErrInvalidLink       = NewErr("INVALID_LINK", "invalid link", http.StatusForbidden)
	ErrExpired           = NewErr("CONTENT_EXPIRED", "content has expired", http.StatusGone)
	ErrViewLimitExceeded = NewErr("VIEW_LIMIT_EXCEEDED", "maximum views reached", http.StatusGone)
	ErrPasswordRequired  = NewErr("PASSWORD_REQUIRED", "password required", http.StatusUnauthorized)
	ErrInvalidPassword   = NewErr("INVALID_PASSWORD", "invalid password", http.StatusUnauthorized)
	ErrNotOwner          = NewErr("NOT_OWNER", "only the owner can delete this content", http.StatusForbidden)
	ErrAuthRequired      = NewErr("AUTH_REQUIRED", "authentication required", http.StatusUnauthorized)
	ErrInvalidToken      = NewErr("INVALID_TOKEN", "invalid token", http.StatusUnauthorized)

	ErrValidation         = NewErr("VALIDATION_FAILED", "invalid request", http.StatusBadRequest)
	ErrContentRequired    = NewErr("CONTENT_REQUIRED", "either text or file must be provided", http.StatusBadRequest)
	ErrContentConflict    = NewErr("CONTENT_CONFLICT", "cannot upload both text and file", http.StatusBadRequest)
	ErrInvalidExpiry      = NewErr("INVALID_EXPIRY", "invalid expiry value", http.StatusBadRequest)
	ErrExpiryInPast       = NewErr("EXPIRY_IN_PAST", "expiry must be in the future", http.StatusBadRequest)
	ErrNotAFile           = NewErr("NOT_A_FILE", "not a file upload", http.StatusBadRequest)
	ErrFileTooLarge       = NewErr("FILE_TOO_LARGE", "file too large", http.StatusRequestEntityTooLarge)
	ErrMimeNotAllowed     = NewErr("MIME_NOT_ALLOWED", "file type not allowed", http.StatusBadRequest)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrUserExists         = NewErr("USER_EXISTS", "user already exists", http.StatusConflict)
	ErrInvalidCredentials = NewErr("INVALID_CREDENTIALS", "invalid credentials", http.StatusUnauthorized)

	ErrStorage        = NewErr("STORAGE_FAILED", "failed to fetch remote file", http.StatusBadGateway)
	ErrUpload         = NewErr("UPLOAD_FAILED", "upload failed", http.StatusInternalServerError)
	ErrInternalServer = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	if e, ok := err.(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
