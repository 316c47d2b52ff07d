// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of pool rule violation. Every rejection the
// pool or the package validator reports carries exactly one of these codes so
// callers can relay structured per-transaction results.
type ErrorCode int

const (
	// ErrAlreadyInPool indicates the transaction is already present in the
	// pool.
	ErrAlreadyInPool ErrorCode = iota

	// ErrMissingInputs indicates an input references an output that is
	// neither confirmed, available in the pool, nor spendable because a
	// pool transaction already consumes it.
	ErrMissingInputs

	// ErrBelowMinFeeRate indicates a transaction submitted on its own pays
	// a modified fee rate below the pool's current minimum.
	ErrBelowMinFeeRate

	// ErrPackageInvalid indicates a submitted package is structurally
	// unacceptable: empty, too large, containing duplicates or forward
	// references, or depending on unresolved external inputs.
	ErrPackageInvalid

	// ErrPackageFeeTooLow indicates a dependency group within a package
	// fails to clear the pool minimum fee rate even in aggregate. The
	// rejection applies to every member of the deficient group.
	ErrPackageFeeTooLow

	// ErrPoolFull indicates cap enforcement could not keep the transaction
	// resident: even after the trim the entry ranked below everything that
	// had to stay, so it was evicted immediately after admission.
	ErrPoolFull

	// ErrConfigInvalid indicates the startup configuration is unusable,
	// for example a pool byte cap below the enforced floor. It is fatal.
	ErrConfigInvalid
)

// errorCodeStrings is a map of error codes back to their constant names for
// pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrAlreadyInPool:    "ErrAlreadyInPool",
	ErrMissingInputs:    "ErrMissingInputs",
	ErrBelowMinFeeRate:  "ErrBelowMinFeeRate",
	ErrPackageInvalid:   "ErrPackageInvalid",
	ErrPackageFeeTooLow: "ErrPackageFeeTooLow",
	ErrPoolFull:         "ErrPoolFull",
	ErrConfigInvalid:    "ErrConfigInvalid",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a transaction or package failed due to one of the pool's
// acceptance rules rather than an internal fault, so the condition is
// reported to the submitter instead of treated as an error in the node.
type RuleError struct {
	Code        ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{Code: c, Description: desc}
}

// IsErrorCode returns whether err is a RuleError carrying the given code.
func IsErrorCode(err error, c ErrorCode) bool {
	var rerr RuleError
	if errors.As(err, &rerr) {
		return rerr.Code == c
	}
	return false
}
