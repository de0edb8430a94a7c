package domain

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) span of time. Engine math is always
// done on UTC instants; callers normalize before constructing one.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) IsZero() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Expand widens the interval by pad on both sides. A non-positive pad is a
// no-op.
func (iv Interval) Expand(pad time.Duration) Interval {
	if pad <= 0 {
		return iv
	}
	return Interval{Start: iv.Start.Add(-pad), End: iv.End.Add(pad)}
}

// Subtract removes the union of blocks from the interval and returns the
// remaining sub-intervals in ascending order. Zero-length remainders are
// dropped.
func (iv Interval) Subtract(blocks []Interval) []Interval {
	if !iv.End.After(iv.Start) {
		return nil
	}

	relevant := make([]Interval, 0, len(blocks))
	for _, b := range blocks {
		if b.Overlaps(iv) {
			relevant = append(relevant, b)
		}
	}
	if len(relevant) == 0 {
		return []Interval{iv}
	}
	sort.Slice(relevant, func(i, j int) bool { return relevant[i].Start.Before(relevant[j].Start) })

	out := make([]Interval, 0, len(relevant)+1)
	cursor := iv.Start
	for _, b := range relevant {
		if b.Start.After(cursor) {
			end := b.Start
			if end.After(iv.End) {
				end = iv.End
			}
			out = append(out, Interval{Start: cursor, End: end})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(iv.End) {
			return out
		}
	}
	if cursor.Before(iv.End) {
		out = append(out, Interval{Start: cursor, End: iv.End})
	}
	return out
}
