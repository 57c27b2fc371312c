package models

import "time"

// TimeLayout is a fixed-width UTC layout, so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t with TimeLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
