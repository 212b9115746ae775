// Package interval splits an observation window into sub-ranges the ohsome API will accept.
package interval

import (
	"fmt"
	"time"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// InvalidRangeError reports a window or span that cannot be split.
type InvalidRangeError struct {
	Start   time.Time
	End     time.Time
	MaxSpan time.Duration
	Reason  string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("interval: invalid range %s..%s (max span %s): %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.MaxSpan, e.Reason)
}

// Split covers [start, end) with contiguous intervals no longer than maxSpan.
// The last interval is shortened so it never runs past end.
func Split(start, end time.Time, maxSpan time.Duration) ([]model.TimeInterval, error) {
	if !end.After(start) {
		return nil, &InvalidRangeError{Start: start, End: end, MaxSpan: maxSpan, Reason: "end must be after start"}
	}
	if maxSpan <= 0 {
		return nil, &InvalidRangeError{Start: start, End: end, MaxSpan: maxSpan, Reason: "max span must be positive"}
	}

	n := int(end.Sub(start)/maxSpan) + 1
	out := make([]model.TimeInterval, 0, n)
	for cur := start; cur.Before(end); {
		next := cur.Add(maxSpan)
		if next.After(end) {
			next = end
		}
		out = append(out, model.TimeInterval{Start: cur, End: next})
		cur = next
	}
	return out, nil
}

// Days converts a whole number of days to a Duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
