package quality

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

// AgeWindow limits a run to releases added within the last Hours hours.
// The zero value is unbounded.
type AgeWindow struct {
	Hours int
}

// Unbounded scans the whole catalog.
var Unbounded = AgeWindow{}

// MaxWindowHours is the largest window whose duration fits in time.Duration.
const MaxWindowHours = math.MaxInt64 / int64(time.Hour)

// ParseAgeWindow accepts "full" (unbounded) or a positive hour count.
func ParseAgeWindow(s string) (AgeWindow, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "full" {
		return Unbounded, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return AgeWindow{}, relerrors.New(relerrors.ErrCodeInvalidAgeWindow,
			fmt.Sprintf("age window must be \"full\" or a positive number of hours, got %q", s), err)
	}
	if int64(n) > MaxWindowHours {
		return AgeWindow{}, relerrors.New(relerrors.ErrCodeInvalidAgeWindow,
			fmt.Sprintf("age window of %d hours exceeds the maximum of %d", n, MaxWindowHours), nil)
	}
	return AgeWindow{Hours: n}, nil
}

// IsUnbounded reports whether the window covers the whole catalog.
func (w AgeWindow) IsUnbounded() bool {
	return w.Hours <= 0
}

// Since returns the oldest add time in the window relative to now, or the
// zero time when unbounded.
func (w AgeWindow) Since(now time.Time) time.Time {
	if w.IsUnbounded() {
		return time.Time{}
	}
	hours := int64(w.Hours)
	if hours > MaxWindowHours {
		hours = MaxWindowHours
	}
	return now.Add(-time.Duration(hours) * time.Hour)
}

// String renders the window the way ParseAgeWindow reads it.
func (w AgeWindow) String() string {
	if w.IsUnbounded() {
		return "full"
	}
	return strconv.Itoa(w.Hours)
}
