// Package threat provides free-text scanning against an ordered list of
// attack signatures.
package threat

import "regexp"

// Signature is a named pattern over free text.
type Signature struct {
	Name    string
	Pattern string
}

// DefaultSignatures are the built-in attack signatures in priority order.
// First match wins.
var DefaultSignatures = []Signature{
	{Name: "script_tag", Pattern: `(?is)<script.*?>.*?</script>`},
	{Name: "javascript_uri", Pattern: `(?i)javascript:`},
	{Name: "onload_handler", Pattern: `(?i)onload=`},
	{Name: "onerror_handler", Pattern: `(?i)onerror=`},
	{Name: "encoded_script_tag", Pattern: `(?i)%3Cscript`},
	{Name: "encoded_attr_breakout", Pattern: `(?i)%22%3E%3Cscript`},
	{Name: "sql_boolean", Pattern: `(?i)('|").*?(OR|AND).*?('|")\s*=`},
	{Name: "sql_statement", Pattern: `(?i)(INSERT|UPDATE|DELETE|DROP|SELECT)\s+(FROM|INTO|TABLE)`},
}

// compiledSignature pairs a signature name with its compiled pattern.
type compiledSignature struct {
	name string
	re   *regexp.Regexp
}

// Detector scans free text against an ordered signature list. It is
// immutable after construction and safe for concurrent use.
type Detector struct {
	signatures []compiledSignature
}

// New creates a Detector from the given ordered signatures. When none are
// given the built-in defaults are used.
func New(signatures ...Signature) (*Detector, error) {
	if len(signatures) == 0 {
		signatures = DefaultSignatures
	}

	compiled := make([]compiledSignature, 0, len(signatures))
	for _, sig := range signatures {
		re, err := regexp.Compile(sig.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledSignature{name: sig.Name, re: re})
	}

	return &Detector{signatures: compiled}, nil
}

// Scan checks text against the signature list in priority order and returns
// the name of the first matching signature. Pure function, no side effects.
func (d *Detector) Scan(text string) (bool, string) {
	if text == "" {
		return false, ""
	}

	for _, sig := range d.signatures {
		if sig.re.MatchString(text) {
			return true, sig.name
		}
	}

	return false, ""
}
