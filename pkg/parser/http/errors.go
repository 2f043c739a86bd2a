// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"fmt"
	"net/http"

	perrors "github.com/absmach/sockparse/pkg/errors"
)

// Framing errors. All of them match errors.ErrProtocolViolation.
var (
	ErrBadCRLF              = fmt.Errorf("http: CR not followed by LF: %w", perrors.ErrProtocolViolation)
	ErrInvalidMethod        = fmt.Errorf("http: invalid method: %w", perrors.ErrProtocolViolation)
	ErrInvalidRequestLine   = fmt.Errorf("http: invalid request line: %w", perrors.ErrProtocolViolation)
	ErrUnsupportedVersion   = fmt.Errorf("http: unsupported protocol version: %w", perrors.ErrProtocolViolation)
	ErrInvalidHeader        = fmt.Errorf("http: invalid header field: %w", perrors.ErrProtocolViolation)
	ErrInvalidContentLength = fmt.Errorf("http: invalid Content-Length: %w", perrors.ErrProtocolViolation)
	ErrChunkedEncoding      = fmt.Errorf("http: invalid chunked encoding: %w", perrors.ErrProtocolViolation)
	ErrAmbiguousLength      = fmt.Errorf("http: both Content-Length and chunked Transfer-Encoding: %w", perrors.ErrProtocolViolation)
)

// Resource errors. All of them match errors.ErrSizeLimitExceeded.
var (
	ErrRequestLineTooLarge = perrors.NewLimit("http: request line too large", http.StatusRequestURITooLong)
	ErrHeadersTooLarge     = perrors.NewLimit("http: header fields too large", http.StatusRequestHeaderFieldsTooLarge)
	ErrBodyTooLarge        = perrors.NewLimit("http: body too large", http.StatusRequestEntityTooLarge)
)
