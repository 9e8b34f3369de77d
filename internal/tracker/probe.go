package tracker

import (
	"encoding/json"
	"strings"
)

// Probe is the structured payload clients send to be tracked.
// Ts is the client's send time in Unix milliseconds and is carried only.
type Probe struct {
	Seq uint64 `json:"seq"`
	Ts  uint64 `json:"ts"`

	// Pad lets clients inflate the frame to a target size. Servers ignore it.
	Pad string `json:"pad,omitempty"`
}

type rawProbe struct {
	Seq *uint64 `json:"seq"`
	Ts  *uint64 `json:"ts"`
}

// ParseProbe decodes a text payload as a probe. Unknown fields are ignored;
// seq and ts must both be present unsigned integers.
func ParseProbe(data []byte) (Probe, bool) {
	var raw rawProbe
	if err := json.Unmarshal(data, &raw); err != nil {
		return Probe{}, false
	}
	if raw.Seq == nil || raw.Ts == nil {
		return Probe{}, false
	}
	return Probe{Seq: *raw.Seq, Ts: *raw.Ts}, true
}

// Marshal encodes the probe. When size exceeds the bare encoding, Pad is
// filled so the result is exactly size bytes.
func (p Probe) Marshal(size int) ([]byte, error) {
	p.Pad = ""
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	// ,"pad":"" adds 9 bytes before any padding characters.
	const padOverhead = 9
	if size <= len(data)+padOverhead {
		return data, nil
	}
	p.Pad = strings.Repeat("x", size-len(data)-padOverhead)
	return json.Marshal(p)
}
