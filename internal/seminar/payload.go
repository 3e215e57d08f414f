package seminar

import (
	"time"

	"seminarhub/internal/store"
	"seminarhub/internal/validate"
)

// Fields are the seminar columns a client may write.
var Fields = []string{
	"title", "duration", "speaker", "capacity", "date",
	"start_datetime", "end_datetime", "start_time", "end_time",
	"questions", "metadata", "certificate_template_url",
}

// Payload builds the row written on create. Every writable column is
// present; those missing from body are null.
func Payload(body map[string]any) store.Record {
	rec := make(store.Record, len(Fields)+1)
	for _, f := range Fields {
		rec[f] = body[f]
	}
	rec["duration"] = number(body["duration"])
	rec["capacity"] = Capacity(body)
	return rec
}

// Replacement builds the PUT payload. It replaces the whole row: omitted
// fields are written as null.
func Replacement(body map[string]any, now time.Time) store.Record {
	rec := Payload(body)
	rec["updated_at"] = store.FormatTime(now)
	return rec
}

// Capacity reads the legacy "participants" field first, then "capacity".
func Capacity(body map[string]any) any {
	if provided(body["participants"]) {
		return number(body["participants"])
	}
	return number(body["capacity"])
}

func number(v any) any {
	if !provided(v) {
		return nil
	}
	n, ok := validate.Int(v)
	if !ok {
		return nil
	}
	return n
}

// provided treats null, "", 0 and false as absent.
func provided(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case bool:
		return x
	}
	return true
}
