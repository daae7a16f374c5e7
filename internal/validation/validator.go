// Package validation provides syntactic validation of structured input
// fields against named rules.
package validation

import (
	"regexp"
	"strings"
)

// Default field types recognized by the validator.
const (
	FieldName   = "name"
	FieldRank   = "rank"
	FieldHandle = "handle"
	FieldDate   = "date"
	FieldTime   = "time"
	FieldURL    = "url"
)

// defaultRules are the built-in patterns, matching the field formats of the
// club service: display names, go ranks (30k..1k, 1d..9d), server handles,
// ISO dates, 24h times and http(s) URLs.
var defaultRules = []Rule{
	{Field: FieldName, Pattern: `^[A-Za-z0-9\s\-_.]{2,50}$`},
	{Field: FieldRank, Pattern: `^(30|[1-2][0-9]|[1-9])k$|^[1-9]d$`},
	{Field: FieldHandle, Pattern: `^[A-Za-z0-9\-_.]{3,20}$`},
	{Field: FieldDate, Pattern: `^\d{4}-\d{2}-\d{2}$`},
	{Field: FieldTime, Pattern: `^\d{2}:\d{2}$`},
	{Field: FieldURL, Pattern: `^https?://.+$`},
}

// Rule is a named pattern for one field type.
type Rule struct {
	Field   string
	Pattern string
}

// Validator validates structured field values against compiled rules.
// It is immutable after construction and safe for concurrent use.
type Validator struct {
	rules map[string]*regexp.Regexp
}

// New creates a Validator from the built-in rules overlaid with the given
// extra rules. A later rule for the same field replaces the earlier one.
func New(extra ...Rule) (*Validator, error) {
	rules := make(map[string]*regexp.Regexp, len(defaultRules)+len(extra))

	for _, rule := range defaultRules {
		rules[rule.Field] = regexp.MustCompile(rule.Pattern)
	}
	for _, rule := range extra {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		rules[rule.Field] = re
	}

	return &Validator{rules: rules}, nil
}

// Validate reports whether value is syntactically valid for the given field
// type. Empty values are always invalid. A field type with no registered
// rule is accepted; the gate relies on the threat detector for free-form
// content, so unknown structured fields are deliberately permissive.
func (v *Validator) Validate(fieldType, value string) bool {
	if value == "" {
		return false
	}

	re, ok := v.rules[fieldType]
	if !ok {
		return true
	}

	return re.MatchString(value)
}

// Sanitize escapes characters with HTML meaning so a value can be echoed
// back safely in replies.
func Sanitize(value string) string {
	if value == "" {
		return ""
	}

	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#x27;",
	)
	return replacer.Replace(value)
}
