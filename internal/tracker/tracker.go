package tracker

import (
	"fmt"
	"math"
)

// Tracker records sequence continuity for a single connection.
//
// The first update only anchors the stream. Every later update appends the
// values strictly between the previous sequence and the new one to the missed
// list, then moves the last sequence to the new value unconditionally. A
// sequence at or below the previous one records nothing but still replaces
// the last sequence, so a reordered stream can re-report values as missed.
//
// Missed values are kept as ranges so Update is constant time regardless of
// the gap size.
type Tracker struct {
	messagesReceived uint64
	lastSequence     uint64
	missed           []Range
	totalMissed      uint64
}

// Range is an inclusive run of missed sequence values.
type Range struct {
	Lo, Hi uint64
}

// Len returns the number of values in the range.
func (r Range) Len() uint64 { return r.Hi - r.Lo + 1 }

// Stats is a point-in-time copy of a tracker's counters. The missed values
// themselves are not copied; use Tracker.MissedRanges once the tracker is
// out of the registry.
type Stats struct {
	MessagesReceived uint64
	LastSequence     uint64
	TotalMissed      uint64
	LossPercentage   float64
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Update ingests one sequence number and returns how many values it newly
// recorded as missed.
func (t *Tracker) Update(seq uint64) uint64 {
	t.messagesReceived++

	var missed uint64
	if t.messagesReceived > 1 && seq > t.lastSequence && seq-t.lastSequence > 1 {
		gap := Range{Lo: t.lastSequence + 1, Hi: seq - 1}
		t.missed = append(t.missed, gap)
		missed = gap.Len()
		t.totalMissed = addSaturating(t.totalMissed, missed)
	}

	t.lastSequence = seq
	return missed
}

// MessagesReceived returns the number of tracked probes.
func (t *Tracker) MessagesReceived() uint64 { return t.messagesReceived }

// LastSequence returns the most recently observed sequence.
func (t *Tracker) LastSequence() uint64 { return t.lastSequence }

// TotalMissed returns the number of values recorded as missed.
func (t *Tracker) TotalMissed() uint64 { return t.totalMissed }

// MissedRanges returns a copy of the missed ranges in the order recorded.
func (t *Tracker) MissedRanges() []Range {
	out := make([]Range, len(t.missed))
	copy(out, t.missed)
	return out
}

// MissedSequences expands the missed ranges into individual values in the
// order recorded. The result has TotalMissed elements, so callers facing
// untrusted input should prefer MissedRanges.
func (t *Tracker) MissedSequences() []uint64 {
	out := make([]uint64, 0, min(t.totalMissed, 1024))
	for _, r := range t.missed {
		for v := r.Lo; ; v++ {
			out = append(out, v)
			if v == r.Hi {
				break
			}
		}
	}
	return out
}

// PacketLossPercentage returns missed / (received + missed) * 100, or 0 when
// nothing has been seen.
func (t *Tracker) PacketLossPercentage() float64 {
	return lossPercentage(t.messagesReceived, t.totalMissed)
}

// Stats returns a snapshot of the counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		MessagesReceived: t.messagesReceived,
		LastSequence:     t.lastSequence,
		TotalMissed:      t.totalMissed,
		LossPercentage:   t.PacketLossPercentage(),
	}
}

// StatsSummary renders the tracker's stats block.
func (t *Tracker) StatsSummary() string {
	return t.Stats().Summary()
}

// Summary renders the multi-line stats block used in logs.
func (s Stats) Summary() string {
	return fmt.Sprintf(
		"Packet Loss Stats:\n"+
			"Total Messages Received: %d\n"+
			"Total Messages Missed: %d\n"+
			"Packet Loss Percentage: %.2f%%\n"+
			"Last Sequence Number: %d",
		s.MessagesReceived,
		s.TotalMissed,
		s.LossPercentage,
		s.LastSequence,
	)
}

func lossPercentage(received, missed uint64) float64 {
	total := float64(received) + float64(missed)
	if total == 0 {
		return 0.0
	}
	return float64(missed) / total * 100.0
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
