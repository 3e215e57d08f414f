// Package validate checks decoded request bodies before they reach the store.
// Checks never mutate the input.
package validate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Operation names a validated request kind.
type Operation int

const (
	SeminarCreate Operation = iota
	SeminarUpdate
	TimeRecord
	Join
	CheckIn
	EvaluationSubmit
)

// Error is a failed check. Its message is returned to the client as is.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

const numbersMessage = "duration, participants, and capacity must be valid integers"

type rule struct {
	field   string
	tag     string
	message string
}

var (
	emailRule   = rule{"participant_email", "required,text", "participant_email is required"}
	numberRules = []rule{
		{"duration", "omitempty,intlike", numbersMessage},
		{"participants", "omitempty,intlike", numbersMessage},
		{"capacity", "omitempty,intlike", numbersMessage},
	}
)

// Rules run in order so the first failure is deterministic.
var rules = map[Operation][]rule{
	SeminarCreate: append([]rule{{"title", "required,text", "title is required"}}, numberRules...),
	SeminarUpdate: numberRules,
	TimeRecord:    {emailRule},
	Join:          {emailRule},
	CheckIn:       {emailRule},
	// any tag fails on a missing value, so "provided" only rejects absence.
	EvaluationSubmit: {emailRule, {"answers", "provided", "answers are required"}},
}

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	_ = val.RegisterValidation("intlike", func(fl validator.FieldLevel) bool {
		_, ok := Int(fl.Field().Interface())
		return ok
	})
	_ = val.RegisterValidation("provided", func(validator.FieldLevel) bool { return true })
	// required alone accepts empty objects and arrays.
	_ = val.RegisterValidation("text", func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && s != ""
	})
	return val
}

// Check returns data unchanged when it satisfies op, or the first failed rule.
func Check(op Operation, data map[string]any) (map[string]any, error) {
	for _, r := range rules[op] {
		if err := v.Var(data[r.field], r.tag); err != nil {
			return nil, &Error{Message: r.message}
		}
	}
	return data, nil
}

// Int converts a JSON value to an integer. Fractional numbers are truncated;
// strings must hold a decimal integer once trimmed. Booleans, arrays and
// objects are not numbers.
func Int(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return fromFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return fromFloat(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// fromFloat truncates n, rejecting values an int cannot hold.
func fromFloat(n float64) (int, bool) {
	if math.IsNaN(n) || n >= float64(math.MaxInt) || n < float64(math.MinInt) {
		return 0, false
	}
	return int(n), true
}
