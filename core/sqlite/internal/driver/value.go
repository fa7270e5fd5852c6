package driver

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ValueConverter narrows Go values to the types the engine stores.
type ValueConverter struct{}

// ConvertValue converts a Go value to a driver.Value.
func (vc ValueConverter) ConvertValue(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}

	switch val := v.(type) {
	case int64, float64, []byte, string:
		return v, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return val.UTC().Format(timeFormat), nil
	}

	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("uint64 value %d overflows int64", val)
		}
		return int64(val), nil
	case float32:
		return float64(val), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// Result implements database/sql/driver.Result.
type Result struct {
	lastInsertID int64
	rowsAffected int64
}

// LastInsertId returns the last inserted ID.
func (r *Result) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

// RowsAffected returns the number of rows affected.
func (r *Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// timeFormat is how times are stored as TEXT.
const timeFormat = "2006-01-02 15:04:05.999999999-07:00"

var sqlcompactConverter = ValueConverter{}
