package models

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindAuthorization
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by chat, profile and auth operations.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithOp returns a copy of e tagged with the operation that failed.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// Payload converts the error to its wire form.
func (e *Error) Payload() *ErrorPayload {
	return &ErrorPayload{
		Kind:    e.Kind.String(),
		Code:    e.Code,
		Message: e.Message,
	}
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrCodeFormatInvalid = newError(KindValidation, "code_format_invalid", "Room code must be exactly 4 digits")
	ErrEmptyRoomName     = newError(KindValidation, "empty_room_name", "Room name cannot be empty")
	ErrEmptyText         = newError(KindValidation, "empty_text", "Message cannot be empty")
	ErrNoActiveRoom      = newError(KindValidation, "no_active_room", "No room selected")
	ErrCannotKickSelf    = newError(KindValidation, "cannot_kick_self", "You cannot kick yourself")
	ErrUsernameInvalid   = newError(KindValidation, "username_invalid", "Username must be 3-20 letters, digits or underscores")
	ErrEmailInvalid      = newError(KindValidation, "email_invalid", "Email address is not valid")
	ErrPasswordTooShort  = newError(KindValidation, "password_too_short", "Password must be at least 6 characters")

	ErrCodeAlreadyExists = newError(KindConflict, "code_already_exists", "Room code already exists. Please choose a different code.")
	ErrAlreadyMember     = newError(KindConflict, "already_member", "You are already a member of this room")
	ErrUsernameTaken     = newError(KindConflict, "username_taken", "Username already exists. Please choose a different username.")
	ErrEmailTaken        = newError(KindConflict, "email_taken", "An account with this email already exists")

	ErrNotCreator     = newError(KindAuthorization, "not_creator", "Only room creators can do this")
	ErrNotSignedIn    = newError(KindAuthorization, "not_signed_in", "You are not signed in")
	ErrBadCredentials = newError(KindAuthorization, "bad_credentials", "Login failed")
	ErrSessionInvalid = newError(KindAuthorization, "session_invalid", "Session expired")

	ErrRoomNotFound = newError(KindNotFound, "room_not_found", "Room not found")
	ErrCodeNotFound = newError(KindNotFound, "code_not_found", "Invalid room code")
	ErrNotMember    = newError(KindNotFound, "not_member", "User is not a member of this room")
	ErrUserNotFound = newError(KindNotFound, "user_not_found", "User not found")

	ErrStoreUnavailable = newError(KindTransient, "store_unavailable", "Storage is unavailable, try again")
)

// Transient wraps an untyped failure as a store error.
func Transient(err error) *Error {
	e := *ErrStoreUnavailable
	e.Err = err
	return &e
}

// Fail turns err into a typed error tagged with op. Typed errors keep their kind,
// anything else is a transient store failure.
func Fail(op string, err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.WithOp(op)
	}
	return Transient(err).WithOp(op)
}

// KindOf returns the kind of err, or KindUnknown when err is not typed.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// PayloadOf converts any error into its wire form.
func PayloadOf(err error) *ErrorPayload {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Payload()
	}
	return &ErrorPayload{
		Kind:    KindUnknown.String(),
		Code:    "internal",
		Message: fmt.Sprintf("internal error: %v", err),
	}
}
