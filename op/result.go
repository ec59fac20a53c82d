package op

import "fmt"

// ResultCode is the status of a completed Operation, carried in the
// response header's Result byte and mirrored into Operation.Result.
// Zero is success; values from 0xf0 up are reserved for the core, and
// 0x01..0xef are free for protocol-defined errors (the core's own
// ResultInterrupted, 0x01, is local only and never sent on the wire).
type ResultCode uint8

const (
	ResultSuccess     ResultCode = 0x00
	ResultInterrupted ResultCode = 0x01 // local only, never sent on the wire
	ResultTimeout     ResultCode = 0xf0
	ResultOverflow    ResultCode = 0xf1
	ResultProtocolBad ResultCode = 0xf2
	ResultCanceled    ResultCode = 0xf3
	ResultUnknown     ResultCode = 0xff
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInterrupted:
		return "interrupted"
	case ResultTimeout:
		return "timeout"
	case ResultOverflow:
		return "overflow"
	case ResultProtocolBad:
		return "protocol-bad"
	case ResultCanceled:
		return "canceled"
	case ResultUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("result(0x%02x)", uint8(r))
	}
}

// Error satisfies the error interface so a non-success ResultCode can be
// returned directly from Operation.Wait / Core.Call.
func (r ResultCode) Error() string {
	return r.String()
}

// Configuration errors, returned synchronously from submit-time calls.
// Per spec.md §7 these never complete the Operation themselves; the
// caller decides whether to cancel or release it.
var (
	ErrTooLarge         = fmt.Errorf("op: payload exceeds max frame size")
	ErrOutOfMemory      = fmt.Errorf("op: host device buffer allocation failed")
	ErrNotConnected     = fmt.Errorf("op: connection is not enabled")
	ErrResponseSizeZero = fmt.Errorf("op: outgoing operations require a non-zero response size")
)
