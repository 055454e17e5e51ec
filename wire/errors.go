// errors.go - framework error taxonomy (spec §6, §7).
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import "errors"

// ErrorCode is the framework's builtin, wire-visible error code (spec §6).
type ErrorCode int32

const (
	CodeNone                  ErrorCode = 0
	CodePackageAlreadyExists  ErrorCode = 1
	CodeParseFailure          ErrorCode = 2
	CodePackageNotExist       ErrorCode = 5
	CodeConnectionNotExist    ErrorCode = 10
	CodeServiceNotExist       ErrorCode = 15
	CodeTransactionAlreadyExists ErrorCode = 20
	CodeMPTAlreadyExists      ErrorCode = 21
	CodeCommandNotExist       ErrorCode = 40
	CodeNameNotExist          ErrorCode = 41
)

// Sentinel errors for the protocol-layer taxonomy (spec §7). Use
// errors.Is/errors.As against these; framework code never panics for
// control flow.
var (
	ErrVersionMismatch               = errors.New("wire: version mismatch")
	ErrBufferTooLarge                = errors.New("wire: buffer too large")
	ErrParse                         = errors.New("wire: parse error")
	ErrUnexpectedSecurityNotification = errors.New("secure: unexpected security notification")
	ErrSecurityChangeAfterOpen       = errors.New("secure: security change after open")
	ErrDecrypt                       = errors.New("secure: decrypt error")

	ErrUnknownCommand      = errors.New("txn: unknown command")
	ErrUnknownTransaction  = errors.New("txn: unknown transaction")
	ErrTransactionMismatch = errors.New("txn: transaction mismatch")
	ErrTransactionTimeout  = errors.New("txn: transaction timed out")

	ErrPackageAlreadyExists = errors.New("store: package already exists")
	ErrPackageNotExist      = errors.New("store: package not exist")
	ErrConnectionNotExist   = errors.New("netconn: connection not exist")
	ErrServiceNotExist      = errors.New("svc: service not exist")

	ErrDuplicateTransaction = errors.New("txn: duplicate transaction registration")
	ErrDuplicateMPT         = errors.New("txn: duplicate multi-phase transaction")
)

// CodeFor maps a sentinel error to its wire-visible builtin code, for
// framework-internal failures that must be reported back to a peer as a
// RspError. Errors with no builtin code map to CodeParseFailure, the
// closest builtin "something went wrong processing this" signal.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrPackageAlreadyExists):
		return CodePackageAlreadyExists
	case errors.Is(err, ErrParse):
		return CodeParseFailure
	case errors.Is(err, ErrPackageNotExist):
		return CodePackageNotExist
	case errors.Is(err, ErrConnectionNotExist):
		return CodeConnectionNotExist
	case errors.Is(err, ErrServiceNotExist):
		return CodeServiceNotExist
	case errors.Is(err, ErrDuplicateTransaction):
		return CodeTransactionAlreadyExists
	case errors.Is(err, ErrDuplicateMPT):
		return CodeMPTAlreadyExists
	case errors.Is(err, ErrUnknownCommand):
		return CodeCommandNotExist
	default:
		return CodeParseFailure
	}
}
