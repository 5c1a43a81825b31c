package task

import (
	"encoding/json"
	"time"
)

// timeLayout is the persisted datetime format, "%Y-%m-%d %H:%M:%S" in
// Go's reference-time syntax.
const timeLayout = "2006-01-02 15:04:05"

// LocalTime wraps time.Time so create_time/finish_time serialize in
// the system's local zone using timeLayout.
type LocalTime struct {
	time.Time
}

// Now returns the current instant in the local zone.
func Now() LocalTime {
	return LocalTime{time.Now().Local()}
}

func (t LocalTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(timeLayout))
}

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(timeLayout, s, time.Local)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
