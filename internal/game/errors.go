/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"fmt"
)

// Kind classifies why a command was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidState
	KindInvalidInput
	KindInsufficientPlayers
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindNotFound:            "notFound",
	KindUnauthorized:        "unauthorized",
	KindInvalidState:        "invalidState",
	KindInvalidInput:        "invalidInput",
	KindInsufficientPlayers: "insufficientPlayers",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is returned by every rejected command. Session state is never
// modified when one is returned.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the bare sentinels below, so errors.Is(err, ErrNotFound)
// holds for any NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrInsufficientPlayers = &Error{Kind: KindInsufficientPlayers}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
