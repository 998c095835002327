// Package protocol defines the JSON command protocol of the arm controller.
//
// Inbound payloads are either command objects ({"cmd":"frame","deg":[...]})
// or, while streaming, bare position arrays ([10,20,0,0,0]). Replies are flat
// objects; failures are {"ok":false,"err":<code>}.
package protocol

import (
	"bytes"
	"encoding/json"
)

// CommandType identifies an inbound command.
type CommandType string

const (
	CmdPing        CommandType = "ping"
	CmdStatus      CommandType = "status"
	CmdHome        CommandType = "home"
	CmdFrame       CommandType = "frame"
	CmdRTFrame     CommandType = "rt_frame"
	CmdTrajectory  CommandType = "trajectory"
	CmdStreamStart CommandType = "stream_start"
	CmdStreamStop  CommandType = "stream_stop"
	CmdLED         CommandType = "led"
	CmdRGB         CommandType = "rgb"
	CmdConfig      CommandType = "config"
	CmdFreq        CommandType = "freq"

	// CmdStreamFrame is a bare position array. It never appears on the wire
	// as a "cmd" value.
	CmdStreamFrame CommandType = "stream_frame"
)

// Modes lists the control modes advertised in the welcome message.
var Modes = []string{"frame", "rt_frame", "trajectory", "stream"}

// Command is a parsed inbound payload. Arguments are decoded and validated
// lazily by the typed accessors in args.go.
type Command struct {
	Type CommandType

	fields map[string]json.RawMessage
	array  []json.RawMessage
}

// Known reports whether c is a command the controller implements.
func (c *Command) Known() bool {
	switch c.Type {
	case CmdPing, CmdStatus, CmdHome, CmdFrame, CmdRTFrame, CmdTrajectory,
		CmdStreamStart, CmdStreamStop, CmdLED, CmdRGB, CmdConfig, CmdFreq, CmdStreamFrame:
		return true
	}
	return false
}

// Has reports whether the command object carries field name with a non-null
// value.
func (c *Command) Has(name string) bool {
	raw, ok := c.fields[name]
	return ok && !isNull(raw)
}

// Parse decodes one payload. Anything that is not a JSON object or array
// fails with CodeBadJSON.
func Parse(data []byte) (*Command, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, Err(CodeBadJSON)
	}

	if data[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, Err(CodeBadJSON)
		}
		return &Command{Type: CmdStreamFrame, array: arr}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, Err(CodeBadJSON)
	}

	var name string
	if raw, ok := fields["cmd"]; ok {
		// A non-string cmd is treated as unknown rather than malformed.
		_ = json.Unmarshal(raw, &name)
	}
	return &Command{Type: CommandType(name), fields: fields}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
