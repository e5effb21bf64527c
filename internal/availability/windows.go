package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a wall-clock interval at HH:mm granularity.
type TimeWindow struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// ParseClock converts an HH:mm string to minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock converts minutes since midnight back to HH:mm.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// WindowEnd computes the end of a window starting at start. It fails when the
// end would cross midnight.
func WindowEnd(start string, step time.Duration) (string, error) {
	startMin, err := ParseClock(start)
	if err != nil {
		return "", err
	}
	endMin := startMin + int(step.Minutes())
	if endMin > 24*60 {
		return "", fmt.Errorf("window starting at %s overruns midnight", start)
	}
	return FormatClock(endMin), nil
}

// GenerateTimeWindows partitions [dayStart, dayEnd) into fixed-duration
// windows. A window whose end would exceed dayEnd is dropped.
func GenerateTimeWindows(dayStart, dayEnd string, step time.Duration) ([]TimeWindow, error) {
	startMin, err := ParseClock(dayStart)
	if err != nil {
		return nil, err
	}
	endMin, err := ParseClock(dayEnd)
	if err != nil {
		return nil, err
	}
	stepMin := int(step.Minutes())
	if stepMin <= 0 {
		return nil, fmt.Errorf("invalid window duration %s", step)
	}

	var windows []TimeWindow
	for cur := startMin; cur < endMin; cur += stepMin {
		if cur+stepMin > endMin {
			break
		}
		windows = append(windows, TimeWindow{
			StartTime: FormatClock(cur),
			EndTime:   FormatClock(cur + stepMin),
		})
	}
	return windows, nil
}
