package domain

import "time"

// SignalHistory is one aggregated, time-indexed record produced by a
// loader execution. Append-only: rows are never updated, only deleted in
// bulk by a purge strategy.
type SignalHistory struct {
	LoaderCode    string
	LoadTimestamp int64 // epoch seconds
	SegmentCode   int
	RecCount      int64
	Min           float64
	Max           float64
	Avg           float64
	Sum           float64
	CreateTime    time.Time
}

// SegmentCombination maps a per-loader 10-tuple of nullable segment
// strings to a dense, auto-incrementing segmentCode.
type SegmentCombination struct {
	LoaderCode  string
	Segments    [10]*string
	SegmentCode int
}

// SegmentsEqual implements the "compare with null" equality semantics
// required by getOrCreateSegmentCode: null equals null, and two non-null
// pointers are equal iff their values are equal.
func SegmentsEqual(a, b [10]*string) bool {
	for i := range a {
		switch {
		case a[i] == nil && b[i] == nil:
			continue
		case a[i] == nil || b[i] == nil:
			return false
		case *a[i] != *b[i]:
			return false
		}
	}
	return true
}
