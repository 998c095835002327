package protocol

import "errors"

// Code is a short wire error code. Clients switch on these; they never change.
type Code string

const (
	CodeBadJSON       Code = "bad_json"
	CodeUnknownCmd    Code = "unknown_cmd"
	CodeMissingDeg    Code = "missing_deg"
	CodeBadDeg        Code = "bad_deg"
	CodeMissingPoints Code = "missing_points"
	CodePointsRange   Code = "points_range_1_20"
	CodeFreqRange     Code = "freq_range_1_100"
	CodePWMFreqRange  Code = "freq_out_of_range_40_60"
	CodeBadChannel    Code = "bad_ch"
	CodeBadConfig     Code = "bad_config"
	CodeLEDRange      Code = "led_range_0_255"
	CodeRGBRange      Code = "rgb_range_0_255"
	CodeNotStreaming  Code = "not_streaming"
	CodeBusy          Code = "busy"
	CodeInternal      Code = "internal"
)

// Error is a protocol-level failure carrying its wire code.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	return "protocol: " + string(e.Code)
}

// Err returns an error for code.
func Err(code Code) error {
	return &Error{Code: code}
}

// CodeOf extracts the wire code from err. Errors that carry no code map
// to CodeInternal.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}
