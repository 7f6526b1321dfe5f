// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds coded errors used throughout the
// triangulation engine to tell recoverable conflicts from fatal protocol
// violations.
package errors

import (
	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// ErrLocked means an entity is locked by another transaction. The
	// transaction that hit it rolls back and is requeued.
	ErrLocked Code = "Locked"

	// ErrAlreadyHeld means the requesting transaction already holds a copy of
	// the entity.
	ErrAlreadyHeld Code = "AlreadyHeld"

	// ErrUnknownHandle means a handle does not denote a live entity.
	ErrUnknownHandle Code = "UnknownHandle"

	// ErrPending means a point is still a placeholder for a queued insertion.
	ErrPending Code = "Pending"

	// ErrPositionNotAllowed rejects a target coordinate.
	ErrPositionNotAllowed Code = "PositionNotAllowed"

	// ErrUnlockedOverwrite means an authoritative slot was about to be
	// replaced by a transaction that does not hold its lock.
	ErrUnlockedOverwrite Code = "UnlockedOverwrite"

	// ErrProtocol covers other locking protocol violations.
	ErrProtocol Code = "Protocol"

	// ErrInvariant means a triangulation invariant does not hold.
	ErrInvariant Code = "Invariant"

	ErrAddressExhausted   Code = "AddressExhausted"
	ErrAlreadyInitialized Code = "AlreadyInitialized"
	ErrDegenerate         Code = "Degenerate"
	ErrClosed             Code = "Closed"

	// ErrFlipStall means flip repair could not restore the Delaunay property.
	ErrFlipStall Code = "FlipStall"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: errors.Errorf(format, args...).Error(),
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code of the first coded error in err's chain, or
// ErrUncoded.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrUncoded
}

// Fatal reports whether err signals a broken invariant rather than a
// condition the caller can recover from.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case ErrUnlockedOverwrite, ErrProtocol, ErrInvariant, ErrAddressExhausted:
		return true
	}
	return false
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	if e, ok := err.(codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}
