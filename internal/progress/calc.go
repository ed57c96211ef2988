package progress

import "time"

// Snapshot is the derived progress of a single retrieval.
type Snapshot struct {
	Downloaded int64
	Total      int64

	// Percent is 0..100 and only meaningful when Known is true.
	Percent float64

	// Speed is the average throughput since the start, in bytes per second.
	Speed float64

	// Known reports whether the total size was declared.
	Known bool
}

// Calculate derives percent and speed from the cumulative byte count.
//
// Percent is clamped at 100 when the server sends more than it declared.
// Speed is 0 until some time has elapsed; afterwards it is always computed
// from the retrieval start, never from a previous sample.
func Calculate(downloaded, total int64, elapsed time.Duration) Snapshot {
	s := Snapshot{
		Downloaded: downloaded,
		Total:      total,
		Known:      total > 0,
	}

	if s.Known {
		s.Percent = float64(downloaded) / float64(total) * 100
		if s.Percent > 100 {
			s.Percent = 100
		}
	}

	if elapsed > 0 {
		s.Speed = float64(downloaded) / elapsed.Seconds()
	}

	return s
}

// ETA estimates the remaining time. It returns false when the total is
// unknown or nothing has been received yet.
func (s Snapshot) ETA() (time.Duration, bool) {
	if !s.Known || s.Speed <= 0 {
		return 0, false
	}
	remaining := s.Total - s.Downloaded
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(remaining) / s.Speed * float64(time.Second)), true
}
