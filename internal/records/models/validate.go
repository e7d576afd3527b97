package models

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "pmhub/pkg/domain-errors"
)

// DateLayout is the ISO calendar date format used by every date field.
const DateLayout = "2006-01-02"

var shortIDPattern = regexp.MustCompile(`^[a-z]{1,10}-\d{1,6}$`)

// fieldError is one failed check; several are joined into a single validation error.
type fieldError struct {
	field  string
	reason string
}

type validationResult struct {
	errs []fieldError
}

func (r *validationResult) add(field, reason string) {
	r.errs = append(r.errs, fieldError{field: field, reason: reason})
}

// err returns the first failing field with every message joined, or nil.
func (r *validationResult) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	if len(r.errs) == 1 {
		return dErrors.Validation(r.errs[0].field, r.errs[0].reason)
	}
	parts := make([]string, len(r.errs))
	for i, e := range r.errs {
		parts[i] = e.field + ": " + e.reason
	}
	return dErrors.Validation(r.errs[0].field, strings.Join(parts, "; "))
}

// ValidateCreate normalizes and checks a full field set for a new record.
func (s *Schema) ValidateCreate(in map[string]any) (Fields, error) {
	out, res := s.normalize(in)
	for _, key := range sortedSpecKeys(s.Fields) {
		if s.Fields[key].Required && !out.Has(key) && !res.has(key) {
			res.add(key, "is required")
		}
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	return out, s.checkRanges(out)
}

// ValidateChanges normalizes a partial update. A nil value clears the field
// unless the field is required.
func (s *Schema) ValidateChanges(in map[string]any) (Fields, error) {
	out := make(Fields, len(in))
	res := &validationResult{}
	for _, key := range sortedKeys(in) {
		raw := in[key]
		spec, ok := s.Fields[key]
		if !ok {
			res.add(key, "not a recognised field")
			continue
		}
		if raw == nil || isBlank(raw) {
			if spec.Required {
				res.add(key, "is required")
				continue
			}
			out[key] = nil
			continue
		}
		v, reason := coerce(spec, raw)
		if reason != "" {
			res.add(key, reason)
			continue
		}
		out[key] = v
	}
	if err := res.err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateRecord runs cross-field checks against a merged field set.
func (s *Schema) ValidateRecord(fields Fields) error {
	return s.checkRanges(fields)
}

func (s *Schema) normalize(in map[string]any) (Fields, *validationResult) {
	out := make(Fields, len(in))
	res := &validationResult{}
	for _, key := range sortedKeys(in) {
		raw := in[key]
		spec, ok := s.Fields[key]
		if !ok {
			res.add(key, "not a recognised field")
			continue
		}
		if raw == nil || isBlank(raw) {
			continue
		}
		v, reason := coerce(spec, raw)
		if reason != "" {
			res.add(key, reason)
			continue
		}
		out[key] = v
	}
	return out, res
}

func (r *validationResult) has(field string) bool {
	for _, e := range r.errs {
		if e.field == field {
			return true
		}
	}
	return false
}

func (s *Schema) checkRanges(fields Fields) error {
	for _, dr := range s.DateRanges {
		start, okStart := fields[dr.Start].(string)
		end, okEnd := fields[dr.End].(string)
		if !okStart || !okEnd {
			continue
		}
		// ISO dates order lexically.
		if start > end {
			return dErrors.Validation(dr.End, fmt.Sprintf("must be on or after %s (%s), got %s", dr.Start, start, end))
		}
	}
	return nil
}

func coerce(spec FieldSpec, raw any) (any, string) {
	switch spec.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		s = strings.TrimSpace(s)
		if spec.MaxLen > 0 && len([]rune(s)) > spec.MaxLen {
			return nil, fmt.Sprintf("must be at most %d character(s), got %d", spec.MaxLen, len([]rune(s)))
		}
		return s, ""
	case KindEnum, KindStatus:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if spec.Kind == KindStatus {
			return s, ""
		}
		for _, allowed := range spec.Enum {
			if s == allowed {
				return s, ""
			}
		}
		sorted := append([]string(nil), spec.Enum...)
		sort.Strings(sorted)
		return nil, fmt.Sprintf("must be one of %v, got '%s'", sorted, s)
	case KindInt, KindNumber:
		f, reason := toNumber(raw)
		if reason != "" {
			return nil, reason
		}
		if spec.Kind == KindInt && f != math.Trunc(f) {
			return nil, fmt.Sprintf("must be an integer, got %s", FormatValue(f))
		}
		if spec.Bounded && f < spec.Min {
			return nil, fmt.Sprintf("must be >= %s, got %s", FormatValue(spec.Min), FormatValue(f))
		}
		if spec.Bounded && f > spec.Max {
			return nil, fmt.Sprintf("must be <= %s, got %s", FormatValue(spec.Max), FormatValue(f))
		}
		return f, ""
	case KindDate:
		switch d := raw.(type) {
		case time.Time:
			return d.UTC().Format(DateLayout), ""
		case string:
			s := strings.TrimSpace(d)
			if len(s) > len(DateLayout) {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					return t.UTC().Format(DateLayout), ""
				}
			}
			if _, err := time.Parse(DateLayout, s); err != nil {
				return nil, fmt.Sprintf("invalid date format: '%s' (expected YYYY-MM-DD)", s)
			}
			return s, ""
		default:
			return nil, "must be a date or ISO date string"
		}
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, "must be a boolean"
		}
		return b, ""
	case KindID:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		return ValidateID(s)
	}
	return nil, "unsupported field kind"
}

// ValidateID accepts UUIDs and short ids such as prj-001. It returns the canonical
// form or a reason.
func ValidateID(raw string) (string, string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "must not be empty"
	}
	if shortIDPattern.MatchString(s) {
		return s, ""
	}
	if u, err := uuid.Parse(s); err == nil {
		return u.String(), ""
	}
	return "", fmt.Sprintf("invalid identifier format: '%s' (expected UUID or short ID like 'prj-001')", s)
}

func toNumber(raw any) (float64, string) {
	switch v := raw.(type) {
	case bool:
		return 0, "must be a number, got boolean"
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Sprintf("must be a number, got '%s'", v)
		}
		return finite(f)
	}
	if f, ok := NormalizeValue(raw).(float64); ok {
		return finite(f)
	}
	return 0, fmt.Sprintf("must be a number, got %T", raw)
}

func finite(f float64) (float64, string) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, "must be a finite number"
	}
	return f, ""
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSpecKeys(m map[string]FieldSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
