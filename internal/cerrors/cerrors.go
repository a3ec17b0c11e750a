// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package cerrors maps the error taxonomy of spec §7 onto gRPC status
// codes, wrapping with github.com/cockroachdb/errors so call sites keep
// stack traces across adapter boundaries while the API layer only ever
// has to translate a status code outward.
package cerrors

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for the most common precondition violations; wrapped
// with context at the call site via errors.Wrapf.
var (
	ErrCeremonyNotFound     = errors.New("ceremony not found")
	ErrCeremonyNotOpened    = errors.New("ceremony not opened")
	ErrCircuitNotFound      = errors.New("circuit not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrNotCurrentContributor = errors.New("caller is not the circuit's current contributor")
	ErrWrongContributionStep = errors.New("participant is not in the expected contribution step")
	ErrDuplicatePrefix      = errors.New("ceremony prefix already in use")
	ErrNoActiveTimeout      = errors.New("participant has no expired timeout to resume from")
	ErrPathMismatch         = errors.New("object path does not match the caller's contribution slot")
	ErrCeremonyNotClosed    = errors.New("ceremony is not closed")
	ErrOpenCircuitsRemain   = errors.New("not every circuit has a valid final contribution")
)

// Unauthenticated builds a codes.Unauthenticated error from msg.
func Unauthenticated(msg string) error { return status.Error(codes.Unauthenticated, msg) }

// PermissionDenied builds a codes.PermissionDenied error from msg.
func PermissionDenied(msg string) error { return status.Error(codes.PermissionDenied, msg) }

// FailedPrecondition reports a state-guard violation (spec §7 "Precondition").
func FailedPrecondition(err error) error {
	return status.Error(codes.FailedPrecondition, err.Error())
}

// NotFound reports a missing ceremony/circuit/participant/contribution.
func NotFound(err error) error { return status.Error(codes.NotFound, err.Error()) }

// InvalidArgument reports a malformed request.
func InvalidArgument(msg string) error { return status.Error(codes.InvalidArgument, msg) }

// AlreadyExists reports a uniqueness violation (e.g. duplicate prefix).
func AlreadyExists(err error) error { return status.Error(codes.AlreadyExists, err.Error()) }

// Internal reports a transient-I/O-exhausted or configuration failure.
// Per spec §7 these are the only two kinds surfaced as codes.Internal.
func Internal(err error) error { return status.Error(codes.Internal, err.Error()) }

// IsNotFound reports whether err (possibly wrapped) is a NotFound status.
func IsNotFound(err error) bool {
	s, ok := status.FromError(errors.UnwrapAll(err))
	return ok && s.Code() == codes.NotFound
}
