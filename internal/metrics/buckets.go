package metrics

import "time"

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = 8

// Bounds are the inclusive upper bounds of every bucket except the last.
var Bounds = [BucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// BucketIndex returns the bucket d falls into.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, b := range Bounds {
		if ms <= b.Milliseconds() {
			return i
		}
	}
	return BucketCount - 1
}

// Cumulative converts per-bucket counts to running totals, as Prometheus
// and OpenTelemetry expect. Missing trailing buckets count as zero.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
