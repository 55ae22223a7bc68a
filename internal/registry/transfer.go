package registry

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Status describes where a transfer is in its lifecycle.
type Status int

const (
	StatusInProgress Status = iota
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}

	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further mutation happens on a transfer
// in this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Transfer is one tracked download. Values returned by the registry are
// copies; mutation goes through registry operations only.
type Transfer struct {
	ID          uint64
	SourceURL   string
	Filename    string
	Destination string

	// TotalBytes is 0 until the size is known.
	TotalBytes    int64
	ReceivedBytes int64

	Status Status
	// Error holds the failure reason when Status is StatusFailed.
	Error string

	StartedAt time.Time

	// SupportsResume is discovered from the first response's
	// Accept-Ranges header. False until proven otherwise.
	SupportsResume bool
}

// IsActive reports whether the transfer is still downloading.
func (t *Transfer) IsActive() bool {
	return t.Status == StatusInProgress
}

func (t *Transfer) IsPaused() bool {
	return t.Status == StatusPaused
}

// CanResume reports whether a pause/resume round trip is possible.
func (t *Transfer) CanResume() bool {
	return t.IsPaused() && t.SupportsResume
}

// Progress returns the completed fraction in [0, 1].
func (t *Transfer) Progress() float64 {
	if t.TotalBytes == 0 {
		return 0
	}

	return float64(t.ReceivedBytes) / float64(t.TotalBytes)
}

// SpeedBPS returns the observed throughput in bytes per second,
// computed from StartedAt. Zero for inactive transfers.
func (t *Transfer) SpeedBPS() float64 {
	if !t.IsActive() || t.ReceivedBytes == 0 {
		return 0
	}

	secs := time.Since(t.StartedAt).Seconds()
	if secs <= 0 {
		return 0
	}

	return float64(t.ReceivedBytes) / secs
}

// ETA returns the estimated time remaining. ok is false while the
// estimate is meaningless (inactive, unknown total, or no throughput yet).
func (t *Transfer) ETA() (time.Duration, bool) {
	if !t.IsActive() || t.TotalBytes == 0 {
		return 0, false
	}

	remaining := t.TotalBytes - t.ReceivedBytes
	if remaining <= 0 {
		return 0, true
	}

	speed := t.SpeedBPS()
	if speed <= 0 {
		return 0, false
	}

	return time.Duration(float64(remaining)/speed) * time.Second, true
}

// SizeString formats the byte counters for display, e.g. "5.0 MB / 10 MB".
func (t *Transfer) SizeString() string {
	if t.TotalBytes > 0 {
		return fmt.Sprintf("%s / %s",
			humanize.Bytes(uint64(t.ReceivedBytes)),
			humanize.Bytes(uint64(t.TotalBytes)))
	}

	return humanize.Bytes(uint64(t.ReceivedBytes))
}

// SpeedString formats the throughput for display, e.g. "1.2 MB/s".
func (t *Transfer) SpeedString() string {
	return humanize.Bytes(uint64(t.SpeedBPS())) + "/s"
}
