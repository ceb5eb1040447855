package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/example/program-scheduler/internal/recurrence"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullLocalTime(value *recurrence.LocalTime) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: value.String(), Valid: true}
}

func localTimePtr(value sql.NullString) (*recurrence.LocalTime, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := recurrence.ParseLocalTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDate(value string) (recurrence.Date, error) {
	var d recurrence.Date
	err := d.UnmarshalText([]byte(value))
	return d, err
}

func nullJSON(value any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeWeekdays(days []time.Weekday) string {
	ints := make([]int, 0, len(days))
	for _, d := range days {
		ints = append(ints, int(d))
	}
	data, _ := json.Marshal(ints)
	return string(data)
}

func decodeWeekdays(value string) ([]time.Weekday, error) {
	var ints []int
	if err := json.Unmarshal([]byte(value), &ints); err != nil {
		return nil, err
	}
	if len(ints) == 0 {
		return nil, nil
	}
	days := make([]time.Weekday, 0, len(ints))
	for _, i := range ints {
		days = append(days, time.Weekday(i))
	}
	return days, nil
}

func encodeInts(values []int) string {
	if values == nil {
		values = []int{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeInts(value string) ([]int, error) {
	var ints []int
	if err := json.Unmarshal([]byte(value), &ints); err != nil {
		return nil, err
	}
	if len(ints) == 0 {
		return nil, nil
	}
	return ints, nil
}
