package core

import "fmt"

// The pipeline distinguishes four error classes (§4.8): a deterministic
// contract error (an entry point's own ContractResult::Err), a deterministic
// pipeline error (the typed errors below), a VM trap, and a fatal backend
// error. Only the last is fatal; the first three unwind the current
// transaction and are surfaced as events.

// AccountExistsError is returned when Instantiate derives an address that
// already has an Account record.
type AccountExistsError struct {
	Address Address
}

func (e *AccountExistsError) Error() string {
	return fmt.Sprintf("account already exists at %s", e.Address)
}

// CodeExistsError is returned when StoreCode is asked to store bytes whose
// hash is already present (code is immutable once stored).
type CodeExistsError struct {
	CodeHash Hash
}

func (e *CodeExistsError) Error() string {
	return fmt.Sprintf("code already stored under hash %s", e.CodeHash)
}

// UnknownCodeHashError is returned when Instantiate or Migrate references a
// code hash with no corresponding StoreCode.
type UnknownCodeHashError struct {
	CodeHash Hash
}

func (e *UnknownCodeHashError) Error() string {
	return fmt.Sprintf("unknown code hash %s", e.CodeHash)
}

// UnknownAccountError is returned when a message addresses a contract with
// no Account record.
type UnknownAccountError struct {
	Address Address
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("unknown account %s", e.Address)
}

// NotAdminError is returned when Migrate is sent by anyone other than the
// account's recorded admin.
type NotAdminError struct {
	Address Address
	Sender  Address
}

func (e *NotAdminError) Error() string {
	return fmt.Sprintf("%s is not the admin of %s", e.Sender, e.Address)
}

// BankRejectedError wraps a failure returned by the bank contract's
// transfer hook, aborting whatever operation attempted to move funds.
type BankRejectedError struct {
	Reason string
}

func (e *BankRejectedError) Error() string {
	return fmt.Sprintf("bank rejected transfer: %s", e.Reason)
}

// ReentrancyError is returned when a contract, directly or via a chain of
// submessages, attempts to re-enter its own execute/instantiate/migrate
// frame while one is already on the pipeline's call stack.
type ReentrancyError struct {
	Address Address
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("reentrant call into %s", e.Address)
}

// VMTrapError wraps any failure originating below the ABI boundary: an
// out-of-bounds guest memory access, an import signature mismatch, gas
// metering exhaustion, or a malformed host<->guest payload. The pipeline
// treats it exactly like a deterministic contract error for unwinding
// purposes, but logs the underlying trap reason.
type VMTrapError struct {
	Reason string
	Cause  error
}

func (e *VMTrapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vm trap: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("vm trap: %s", e.Reason)
}

func (e *VMTrapError) Unwrap() error { return e.Cause }

// BackendError wraps an I/O failure below the KV interface. Per §4.8 this is
// fatal: it aborts block processing entirely rather than unwinding a single
// transaction, because state can no longer be trusted to advance correctly.
type BackendError struct {
	Op    string
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error during %s: %v", e.Op, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }
