// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy shared by the protocol parsers.
//
// Parsers never recover from errors themselves. They return an error that wraps one
// of the taxonomy sentinels below, and the connection layer decides what to do with it
// (close the socket, answer with a 4xx, drop the MQTT session).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProtocolViolation marks framing errors: malformed CRLF, bad MQTT flags,
	// unknown protocol names. Always fatal to the exchange or session.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrSizeLimitExceeded marks resource errors: workspace or buffer exhausted.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrInvalidInput indicates invalid input data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrCallback marks a failure returned by an application callback.
	ErrCallback = errors.New("callback failed")
)

// Class is the coarse classification the connection layer acts upon.
type Class int

const (
	ClassNone Class = iota
	ClassFraming
	ClassResource
	ClassCallback
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassFraming:
		return "framing"
	case ClassResource:
		return "resource"
	case ClassCallback:
		return "callback"
	default:
		return "other"
	}
}

// ParseError wraps an error with the parser context it happened in.
type ParseError struct {
	Op       string // Parse phase that failed (request-line, header, body, fixed-header, ...)
	Protocol string // Protocol (http, mqtt)
	State    string // Parser state at the time of failure
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Protocol, e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Protocol, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// New creates a new ParseError.
func New(op, protocol, state string, err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{
		Op:       op,
		Protocol: protocol,
		State:    state,
		Err:      err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Classify reports which part of the taxonomy err belongs to.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCallback):
		return ClassCallback
	case errors.Is(err, ErrSizeLimitExceeded):
		return ClassResource
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrInvalidInput):
		return ClassFraming
	default:
		return ClassOther
	}
}

// Limit is a resource error that knows which HTTP status describes it.
type Limit struct {
	Name   string
	Status int
}

// NewLimit returns a resource sentinel reported with the given HTTP status.
func NewLimit(name string, status int) *Limit {
	return &Limit{Name: name, Status: status}
}

func (l *Limit) Error() string {
	return l.Name
}

// Is makes every Limit match ErrSizeLimitExceeded.
func (l *Limit) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}

// HTTPStatus maps err to the HTTP status class a server would answer with.
// The parsers only classify; writing the response is up to the caller.
func HTTPStatus(err error) int {
	var l *Limit
	switch Classify(err) {
	case ClassNone:
		return http.StatusOK
	case ClassFraming:
		return http.StatusBadRequest
	case ClassResource:
		if errors.As(err, &l) && l.Status != 0 {
			return l.Status
		}
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
