package pib

import (
	"errors"
	"fmt"
)

// Error is a structured fabric error carrying the context needed to
// correlate a failure back to a device, port, and queue pair without
// parsing a message string.
type Error struct {
	Op       string   // operation that failed, e.g. "PostSend", "ModifyQP"
	DeviceID uint32   // device GUID (0 if not applicable)
	Port     int      // port number (-1 if not applicable)
	QPNum    uint32   // queue pair number (0 if not applicable)
	Code     ErrCode  // high-level error category
	WCStatus WCStatus // completion status, if this error originated from a WC (0/success if not applicable)
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DeviceID != 0 {
		parts = append(parts, fmt.Sprintf("device=%d", e.DeviceID))
	}
	if e.Port >= 0 {
		parts = append(parts, fmt.Sprintf("port=%d", e.Port))
	}
	if e.QPNum != 0 {
		parts = append(parts, fmt.Sprintf("qp=%d", e.QPNum))
	}
	if e.WCStatus != WCStatusSuccess {
		parts = append(parts, fmt.Sprintf("wc_status=%s", e.WCStatus))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("pib: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("pib: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrCode is a high-level error category, independent of the specific
// completion status or NAK code that produced it.
type ErrCode string

const (
	ErrCodeNotImplemented    ErrCode = "not implemented"
	ErrCodeDeviceNotFound    ErrCode = "device not found"
	ErrCodeQPNotFound        ErrCode = "queue pair not found"
	ErrCodeInvalidParameters ErrCode = "invalid parameters"
	ErrCodeQPInErrorState    ErrCode = "queue pair in error state"
	ErrCodeCQOverflow        ErrCode = "completion queue overflow"
	ErrCodeRemoteAccess      ErrCode = "remote access violation"
	ErrCodeRetryExceeded     ErrCode = "retry count exceeded"
	ErrCodeRNRExceeded       ErrCode = "RNR retry count exceeded"
	ErrCodeTimeout           ErrCode = "operation timed out"
)

// WCStatus mirrors the wire completion-status taxonomy of spec §4.4; it
// is defined here (rather than imported from internal/rc, whose WC status
// constants use a different numbering) so root callers can build *Error
// values without reaching into an internal package.
type WCStatus uint8

const (
	WCStatusSuccess WCStatus = iota
	WCStatusLocalLenErr
	WCStatusLocalQPOpErr
	WCStatusLocalProtErr
	WCStatusWRFlushErr
	WCStatusRetryExcExc
	WCStatusRNRRetryExcExc
	WCStatusRemAccessErr
	WCStatusRemOpErr
	WCStatusRemInvReqErr
)

func (s WCStatus) String() string {
	switch s {
	case WCStatusSuccess:
		return "SUCCESS"
	case WCStatusLocalLenErr:
		return "LOC_LEN_ERR"
	case WCStatusLocalQPOpErr:
		return "LOC_QP_OP_ERR"
	case WCStatusLocalProtErr:
		return "LOC_PROT_ERR"
	case WCStatusWRFlushErr:
		return "WR_FLUSH_ERR"
	case WCStatusRetryExcExc:
		return "RETRY_EXC_ERR"
	case WCStatusRNRRetryExcExc:
		return "RNR_RETRY_EXC_ERR"
	case WCStatusRemAccessErr:
		return "REM_ACCESS_ERR"
	case WCStatusRemOpErr:
		return "REM_OP_ERR"
	case WCStatusRemInvReqErr:
		return "REM_INV_REQ_ERR"
	default:
		return "UNKNOWN"
	}
}

// NewError creates a structured error with no device/port/qp context.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Port: -1, Code: code, Msg: msg}
}

// NewQPError creates a structured error scoped to a specific queue pair.
func NewQPError(op string, deviceID uint32, qpNum uint32, code ErrCode, msg string) *Error {
	return &Error{Op: op, DeviceID: deviceID, Port: -1, QPNum: qpNum, Code: code, Msg: msg}
}

// NewCompletionError builds an *Error from a failed work completion's
// status, mapping it to the nearest ErrCode.
func NewCompletionError(op string, deviceID uint32, qpNum uint32, status WCStatus) *Error {
	return &Error{
		Op:       op,
		DeviceID: deviceID,
		Port:     -1,
		QPNum:    qpNum,
		Code:     mapWCStatusToCode(status),
		WCStatus: status,
		Msg:      status.String(),
	}
}

func mapWCStatusToCode(status WCStatus) ErrCode {
	switch status {
	case WCStatusWRFlushErr:
		return ErrCodeQPInErrorState
	case WCStatusRetryExcExc:
		return ErrCodeRetryExceeded
	case WCStatusRNRRetryExcExc:
		return ErrCodeRNRExceeded
	case WCStatusRemAccessErr:
		return ErrCodeRemoteAccess
	default:
		return ErrCodeInvalidParameters
	}
}

// WrapError wraps inner with op context, preserving a structured error's
// fields or otherwise tagging it as a generic invalid-parameters failure.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if pe, ok := inner.(*Error); ok {
		return &Error{
			Op: op, DeviceID: pe.DeviceID, Port: pe.Port, QPNum: pe.QPNum,
			Code: pe.Code, WCStatus: pe.WCStatus, Msg: pe.Msg, Inner: pe.Inner,
		}
	}
	return &Error{Op: op, Port: -1, Code: ErrCodeInvalidParameters, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
