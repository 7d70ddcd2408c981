// Package schedule provides pure due-time checks for the batch jobs. The
// jobs runner combines these with the last successful run recorded in the
// job log.
package schedule

import "time"

// DailyDue returns true if a daily job has not yet run today.
func DailyDue(now time.Time, lastSuccess *time.Time) bool {
	if lastSuccess == nil {
		return true
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return lastSuccess.Before(today)
}

// MonthlyDue returns true if a monthly job has not yet run this calendar
// month. The monthly index job targets the previous month, so it becomes
// due on the 1st.
func MonthlyDue(now time.Time, lastSuccess *time.Time) bool {
	if lastSuccess == nil {
		return true
	}
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return lastSuccess.Before(thisMonth)
}

// PreviousMonth returns the year and month the monthly index job should
// generate when run at now.
func PreviousMonth(now time.Time) (int, time.Month) {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}
