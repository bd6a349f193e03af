package inventory

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical date layouts. Dates are stored as text in local time.
const (
	DateLayout     = "02/01/2006"
	DateTimeLayout = "02/01/2006 15:04:05"
)

// isoLayouts are accepted from the backend and rewritten into canonical form.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatDate renders t as DD/MM/YYYY in local time.
func FormatDate(t time.Time) string {
	return t.In(time.Local).Format(DateLayout)
}

// FormatDateTime renders t as DD/MM/YYYY HH:MM:SS in local time.
func FormatDateTime(t time.Time) string {
	return t.In(time.Local).Format(DateTimeLayout)
}

// ParseTimestamp parses a canonical date or date-time and returns unix
// milliseconds, or -1 when s is not a valid canonical date.
func ParseTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1
	}
	datePart, timePart, hasTime := strings.Cut(s, " ")
	dmy := strings.Split(datePart, "/")
	if len(dmy) != 3 {
		return -1
	}
	day, ok1 := atoi(dmy[0])
	month, ok2 := atoi(dmy[1])
	year, ok3 := atoi(dmy[2])
	if !ok1 || !ok2 || !ok3 {
		return -1
	}
	var hour, minute, second int
	if hasTime {
		hms := strings.Split(strings.TrimSpace(timePart), ":")
		if len(hms) < 2 || len(hms) > 3 {
			return -1
		}
		var ok bool
		if hour, ok = atoi(hms[0]); !ok {
			return -1
		}
		if minute, ok = atoi(hms[1]); !ok {
			return -1
		}
		if len(hms) == 3 {
			if second, ok = atoi(hms[2]); !ok {
				return -1
			}
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return -1
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	// time.Date normalizes 31/02 into March; reject it.
	if t.Day() != day || int(t.Month()) != month {
		return -1
	}
	return t.UnixMilli()
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NormalizeDate converts a wire date value into canonical text. Canonical
// input is kept as is; ISO-8601 text and epoch milliseconds are reformatted;
// anything else unparsable is kept verbatim.
func NormalizeDate(v any, withTime bool) string {
	format := FormatDate
	if withTime {
		format = FormatDateTime
	}
	switch val := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return format(time.UnixMilli(int64(val)))
	case int64:
		return format(time.UnixMilli(val))
	case int:
		return format(time.UnixMilli(int64(val)))
	case string:
		s := strings.TrimSpace(val)
		if s == "" || ParseTimestamp(s) >= 0 {
			return s
		}
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return format(t)
			}
		}
		return s
	}
	return ""
}
