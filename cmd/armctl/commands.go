package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

var errUsage = errors.New("usage")

// request is one command built from words, plus whether the daemon will
// answer it.
type request struct {
	payload []byte
	silent  bool
}

// build turns shell words into a protocol payload.
//
//	ping | status | stream_stop
//	home [ms]
//	frame <deg...> [ms=N]     deg may be "_" to hold a joint
//	rt <deg...>
//	stream_start [freq] | stream <deg...>
//	led <0-255> | rgb <r> <g> <b> | freq <hz>
//	config <ch> <field>=<value>...
//	send <json>
func build(args []string) (*request, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	name, rest := args[0], args[1:]
	msg := map[string]any{}

	switch name {
	case "ping", "status", "stream_stop":
		msg["cmd"] = name

	case "stream_start":
		msg["cmd"] = string(protocol.CmdStreamStart)
		if len(rest) > 0 {
			freq, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, fmt.Errorf("bad freq %q", rest[0])
			}
			msg["freq"] = freq
		}

	case "stream":
		deg, _, err := parseAngles(rest, false)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(deg)
		if err != nil {
			return nil, err
		}
		return &request{payload: data, silent: true}, nil

	case "home":
		msg["cmd"] = string(protocol.CmdHome)
		if len(rest) > 0 {
			ms, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, fmt.Errorf("bad ms %q", rest[0])
			}
			msg["ms"] = ms
		}

	case "frame", "rt":
		deg, ms, err := parseAngles(rest, name == "frame")
		if err != nil {
			return nil, err
		}
		msg["deg"] = deg
		if name == "rt" {
			msg["cmd"] = string(protocol.CmdRTFrame)
			return encode(msg, true)
		}
		msg["cmd"] = string(protocol.CmdFrame)
		if ms >= 0 {
			msg["ms"] = ms
		}

	case "led":
		if len(rest) != 1 {
			return nil, errUsage
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("bad value %q", rest[0])
		}
		msg["cmd"] = string(protocol.CmdLED)
		msg["val"] = v

	case "rgb":
		if len(rest) != 3 {
			return nil, errUsage
		}
		msg["cmd"] = string(protocol.CmdRGB)
		for i, key := range []string{"r", "g", "b"} {
			v, err := strconv.Atoi(rest[i])
			if err != nil {
				return nil, fmt.Errorf("bad %s %q", key, rest[i])
			}
			msg[key] = v
		}

	case "freq":
		if len(rest) != 1 {
			return nil, errUsage
		}
		hz, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad hz %q", rest[0])
		}
		msg["cmd"] = string(protocol.CmdFreq)
		msg["hz"] = hz

	case "config":
		if len(rest) < 2 {
			return nil, errUsage
		}
		ch, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("bad channel %q", rest[0])
		}
		msg["cmd"] = string(protocol.CmdConfig)
		msg["ch"] = ch
		for _, kv := range rest[1:] {
			key, val, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("expected field=value, got %q", kv)
			}
			switch key {
			case "invert":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return nil, fmt.Errorf("bad invert %q", val)
				}
				msg[key] = b
			default:
				n, err := strconv.Atoi(val)
				if err != nil {
					return nil, fmt.Errorf("bad %s %q", key, val)
				}
				msg[key] = n
			}
		}

	case "send":
		raw := strings.Join(rest, " ")
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("not valid JSON: %s", raw)
		}
		cmd, err := protocol.Parse([]byte(raw))
		silent := err == nil && (cmd.Type == protocol.CmdRTFrame || cmd.Type == protocol.CmdStreamFrame)
		return &request{payload: []byte(raw), silent: silent}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}

	return encode(msg, false)
}

// parseAngles reads up to five angles, "_" holding a joint. With allowMS a
// trailing ms=N sets the duration; ms is -1 when absent.
func parseAngles(words []string, allowMS bool) ([]any, int, error) {
	ms := -1
	var deg []any
	for _, w := range words {
		if allowMS && strings.HasPrefix(w, "ms=") {
			n, err := strconv.Atoi(strings.TrimPrefix(w, "ms="))
			if err != nil {
				return nil, 0, fmt.Errorf("bad %q", w)
			}
			ms = n
			continue
		}
		if w == "_" {
			deg = append(deg, nil)
			continue
		}
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bad angle %q", w)
		}
		deg = append(deg, v)
	}
	if len(deg) == 0 || len(deg) > calibration.NumChannels {
		return nil, 0, fmt.Errorf("need 1-%d angles", calibration.NumChannels)
	}
	return deg, ms, nil
}

func encode(msg map[string]any, silent bool) (*request, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &request{payload: data, silent: silent}, nil
}
