package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOrdinal(t *testing.T) {
	tests := []struct {
		name     string
		day      string
		expected int
	}{
		{"sunday is zero", "sunday", 0},
		{"monday", "monday", 1},
		{"saturday", "saturday", 6},
		{"mixed case", "Wednesday", 3},
		{"surrounding whitespace", "  friday ", 5},
		{"unknown day defaults to monday", "someday", 1},
		{"empty defaults to monday", "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DayOrdinal(tt.day))
		})
	}
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		wantHour   int
		wantMinute int
		wantErr    bool
	}{
		{"morning", "09:00", 9, 0, false},
		{"evening", "23:59", 23, 59, false},
		{"midnight", "00:00", 0, 0, false},
		{"missing minute", "09", 0, 0, true},
		{"hour out of range", "24:00", 0, 0, true},
		{"minute out of range", "09:60", 0, 0, true},
		{"garbage", "half past nine", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hour, minute, err := ParseScheduleTime(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHour, hour)
			assert.Equal(t, tt.wantMinute, minute)
		})
	}
}

func TestScheduleMatches(t *testing.T) {
	// 2025-06-04 09:00 UTC is a Wednesday
	wednesdayNine := time.Date(2025, 6, 4, 9, 0, 30, 0, time.UTC)

	tests := []struct {
		name         string
		now          time.Time
		scheduleDay  string
		scheduleTime string
		expected     bool
	}{
		{"exact match", wednesdayNine, "wednesday", "09:00", true},
		{"wrong day", wednesdayNine, "thursday", "09:00", false},
		{"wrong hour", wednesdayNine, "wednesday", "10:00", false},
		{"wrong minute", wednesdayNine, "wednesday", "09:01", false},
		{"unparseable time never matches", wednesdayNine, "wednesday", "morning", false},
		{"unknown day falls back to monday", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), "someday", "09:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scheduleMatches(tt.now, tt.scheduleDay, tt.scheduleTime))
		})
	}
}
