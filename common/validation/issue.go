package validation

// Issue codes carried on validation failures. The full list is returned to
// callers so every problem can be rendered at once.
const (
	CodeRequired       = "validation.required"
	CodeType           = "validation.type"
	CodeDate           = "validation.date"
	CodeEnum           = "validation.enum"
	CodePhone          = "validation.phone"
	CodeEmail          = "validation.email"
	CodePattern        = "validation.pattern"
	CodeMask           = "validation.mask"
	CodeUnexpectedSlot = "validation.unexpected_slot"
	CodeConfiguration  = "validation.configuration"

	CodeDuplicateKey         = "validation.duplicate_key"
	CodeUnknownItem          = "validation.unknown_item"
	CodeInvalidCompletedFlag = "validation.invalid_completed_flag"
	CodeRequiredNotCompleted = "validation.required_not_completed"
	CodeMissingRequiredItem  = "validation.missing_required_item"
)

// Issue describes a single validation failure with a structured,
// localizable code
type Issue struct {
	Field  string         `json:"field"`
	Code   string         `json:"code"`
	Params map[string]any `json:"params,omitempty"`
}

func newIssue(field, code string) Issue {
	return Issue{Field: field, Code: code}
}

func newIssueParams(field, code string, params map[string]any) Issue {
	return Issue{Field: field, Code: code, Params: params}
}
