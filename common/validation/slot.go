package validation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stepline/stepline/common/models"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^[+0-9][0-9\s().-]{3,}$`)
)

var truthyTokens = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "on": true}
var falsyTokens = map[string]bool{"false": true, "0": true, "no": true, "n": true, "off": true}

type compiledSlot struct {
	slot    *models.Slot
	pattern *regexp.Regexp
	mask    *regexp.Regexp
}

// SlotValidator type-checks and normalizes one step's submitted field
// values against its slot definitions. Issues are collected, never
// short-circuited, and any issue rejects the whole step.
type SlotValidator struct {
	slots  []compiledSlot
	byName map[string]int
}

// NewSlotValidator compiles a validator for the given slot definitions.
// An invalid regular expression in a definition is a configuration error,
// not a submission error.
func NewSlotValidator(slots []*models.Slot) (*SlotValidator, error) {
	v := &SlotValidator{byName: make(map[string]int, len(slots))}
	for _, slot := range slots {
		compiled := compiledSlot{slot: slot}

		if slot.Pattern != nil && *slot.Pattern != "" {
			re, err := regexp.Compile(*slot.Pattern)
			if err != nil {
				return nil, fmt.Errorf("slot %q: invalid pattern %q: %w", slot.Name, *slot.Pattern, err)
			}
			compiled.pattern = re
		}

		if slot.Mask != nil && *slot.Mask != "" {
			compiled.mask = compileMask(*slot.Mask)
		}

		v.byName[slot.Name] = len(v.slots)
		v.slots = append(v.slots, compiled)
	}
	return v, nil
}

// compileMask turns a positional mask like "XXX-XXX" (X = digit) into an
// anchored regexp. A mask with no X placeholder carries no constraint.
func compileMask(mask string) *regexp.Regexp {
	if !strings.Contains(mask, "X") {
		return nil
	}
	var b strings.Builder
	b.WriteString("^")
	for _, ch := range mask {
		switch ch {
		case 'X':
			b.WriteString(`\d`)
		case ' ':
			b.WriteString(" ")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Validate normalizes values against the slot definitions. On success it
// returns a map holding only the accepted, normalized values. When any
// issue is found the returned map is nil and the complete issue list is
// returned in deterministic order: definition order first, then unknown
// submission keys sorted by name.
func (v *SlotValidator) Validate(values map[string]any) (map[string]any, []Issue) {
	var issues []Issue
	cleaned := make(map[string]any, len(v.slots))

	for _, compiled := range v.slots {
		slot := compiled.slot
		raw, present := values[slot.Name]
		if !present || isBlank(raw) {
			if slot.Required {
				issues = append(issues, newIssue(slot.Name, CodeRequired))
			}
			continue
		}

		value, issue := v.coerce(compiled, raw)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		cleaned[slot.Name] = value
	}

	var unknown []string
	for name := range values {
		if _, defined := v.byName[name]; !defined {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		issues = append(issues, newIssue(name, CodeUnexpectedSlot))
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return cleaned, nil
}

// coerce dispatches on the closed SlotType set, then applies the optional
// pattern and mask constraints to the stringified normalized value.
func (v *SlotValidator) coerce(compiled compiledSlot, raw any) (any, *Issue) {
	slot := compiled.slot

	var value any
	var issue *Issue
	switch slot.Type {
	case models.SlotTypeString:
		value, issue = coerceString(slot.Name, raw)
	case models.SlotTypeNumber:
		value, issue = coerceNumber(slot.Name, raw)
	case models.SlotTypeDate:
		value, issue = coerceDate(slot.Name, raw)
	case models.SlotTypeEnum:
		value, issue = coerceEnum(slot.Name, raw, slot.Options)
	case models.SlotTypePhone:
		value, issue = coercePhone(slot.Name, raw)
	case models.SlotTypeEmail:
		value, issue = coerceEmail(slot.Name, raw)
	case models.SlotTypeBoolean:
		value, issue = coerceBoolean(slot.Name, raw)
	default:
		badType := newIssueParams(slot.Name, CodeConfiguration, map[string]any{"type": string(slot.Type)})
		return nil, &badType
	}
	if issue != nil {
		return nil, issue
	}

	asText := stringify(value)
	if compiled.mask != nil && !compiled.mask.MatchString(asText) {
		masked := newIssueParams(slot.Name, CodeMask, map[string]any{"mask": *slot.Mask})
		return nil, &masked
	}
	if compiled.pattern != nil {
		// Full match, not substring match.
		loc := compiled.pattern.FindStringIndex(asText)
		if loc == nil || loc[0] != 0 || loc[1] != len(asText) {
			mismatched := newIssueParams(slot.Name, CodePattern, map[string]any{"pattern": *slot.Pattern})
			return nil, &mismatched
		}
	}

	return value, nil
}

func coerceString(name string, raw any) (any, *Issue) {
	s, ok := raw.(string)
	if !ok {
		issue := newIssueParams(name, CodeType, map[string]any{"expected": "string"})
		return nil, &issue
	}
	return strings.TrimSpace(s), nil
}

// coerceNumber accepts numeric values and numeric strings, preserving the
// integer vs fractional distinction: whole values come back as int64.
func coerceNumber(name string, raw any) (any, *Issue) {
	var f float64
	switch n := raw.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case string:
		trimmed := strings.TrimSpace(n)
		// Integer strings go through ParseInt so values past 2^53 keep
		// their exact magnitude.
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			issue := newIssueParams(name, CodeType, map[string]any{"expected": "number"})
			return nil, &issue
		}
		f = parsed
	default:
		issue := newIssueParams(name, CodeType, map[string]any{"expected": "number"})
		return nil, &issue
	}

	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f), nil
	}
	return f, nil
}

// coerceDate accepts ISO calendar dates and full timestamps, keeping only
// the calendar date.
func coerceDate(name string, raw any) (any, *Issue) {
	switch d := raw.(type) {
	case time.Time:
		return d.Format("2006-01-02"), nil
	case string:
		trimmed := strings.TrimSpace(d)
		if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
		if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	issue := newIssue(name, CodeDate)
	return nil, &issue
}

func coerceEnum(name string, raw any, options []string) (any, *Issue) {
	if len(options) == 0 {
		issue := newIssueParams(name, CodeConfiguration, map[string]any{"missing": "options"})
		return nil, &issue
	}
	s, ok := raw.(string)
	if !ok {
		issue := newIssueParams(name, CodeType, map[string]any{"expected": "string"})
		return nil, &issue
	}
	s = strings.TrimSpace(s)
	for _, option := range options {
		if s == option {
			return s, nil
		}
	}
	issue := newIssueParams(name, CodeEnum, map[string]any{"allowed": options})
	return nil, &issue
}

func coercePhone(name string, raw any) (any, *Issue) {
	s, ok := raw.(string)
	if !ok || !phoneRe.MatchString(strings.TrimSpace(s)) {
		issue := newIssue(name, CodePhone)
		return nil, &issue
	}
	return strings.TrimSpace(s), nil
}

func coerceEmail(name string, raw any) (any, *Issue) {
	s, ok := raw.(string)
	if !ok || !emailRe.MatchString(strings.TrimSpace(s)) {
		issue := newIssue(name, CodeEmail)
		return nil, &issue
	}
	return strings.TrimSpace(s), nil
}

func coerceBoolean(name string, raw any) (any, *Issue) {
	switch b := raw.(type) {
	case bool:
		return b, nil
	case int:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case int64:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case float64:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case string:
		lowered := strings.ToLower(strings.TrimSpace(b))
		if truthyTokens[lowered] {
			return true, nil
		}
		if falsyTokens[lowered] {
			return false, nil
		}
	}
	issue := newIssueParams(name, CodeType, map[string]any{"expected": "boolean"})
	return nil, &issue
}

func isBlank(raw any) bool {
	if raw == nil {
		return true
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
