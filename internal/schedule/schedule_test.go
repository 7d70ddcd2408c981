package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(t time.Time) *time.Time { return &t }

func TestDailyDue(t *testing.T) {
	now := time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastSuccess *time.Time
		expected    bool
	}{
		{"never ran", nil, true},
		{"ran yesterday", ptr(time.Date(2026, time.March, 14, 23, 0, 0, 0, time.UTC)), true},
		{"ran earlier today", ptr(time.Date(2026, time.March, 15, 6, 0, 0, 0, time.UTC)), false},
		{"ran at midnight today", ptr(time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DailyDue(now, tt.lastSuccess))
		})
	}
}

func TestMonthlyDue(t *testing.T) {
	now := time.Date(2026, time.March, 1, 2, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastSuccess *time.Time
		expected    bool
	}{
		{"never ran", nil, true},
		{"ran last month", ptr(time.Date(2026, time.February, 1, 3, 0, 0, 0, time.UTC)), true},
		{"ran this month", ptr(time.Date(2026, time.March, 1, 1, 0, 0, 0, time.UTC)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MonthlyDue(now, tt.lastSuccess))
		})
	}
}

func TestPreviousMonth(t *testing.T) {
	year, month := PreviousMonth(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, year)
	assert.Equal(t, time.February, month)

	year, month = PreviousMonth(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2025, year)
	assert.Equal(t, time.December, month)
}
