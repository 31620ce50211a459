package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusError   = "error"
)

const (
	TaskActionSnapshot        = "make_new"
	TaskActionClear           = "dell"
	TaskActionUpdateTimetable = "update_timetable"
)

type Task struct {
	ID           string     `db:"id"`
	Params       JSON       `db:"params"`
	Status       string     `db:"status"`
	Result       JSON       `db:"result"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	FinishedAt   *time.Time `db:"finished_at"`
}

func (t *Task) Action() string {
	return t.Params.String("action")
}

func (t *Task) IsFinished() bool {
	return t.Status != TaskStatusRunning
}

// JSON is a free-form object stored as a text column.
type JSON map[string]any

func (j JSON) String(key string) string {
	v, ok := j[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprint(v)
}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSON) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	m := JSON{}
	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}
	*j = m
	return nil
}
