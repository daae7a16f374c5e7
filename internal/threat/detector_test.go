package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_Scan(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		text    string
		matched bool
		pattern string
	}{
		{name: "empty text", text: "", matched: false},
		{name: "benign text", text: "see you at the club tonight", matched: false},
		{
			name:    "script tag",
			text:    `hello <script>alert(1)</script> world`,
			matched: true,
			pattern: "script_tag",
		},
		{
			name:    "script tag across lines",
			text:    "<script>\nalert(1)\n</script>",
			matched: true,
			pattern: "script_tag",
		},
		{
			name:    "script tag mixed case",
			text:    `<ScRiPt>alert(1)</ScRiPt>`,
			matched: true,
			pattern: "script_tag",
		},
		{
			name:    "javascript uri",
			text:    "click javascript:alert(1)",
			matched: true,
			pattern: "javascript_uri",
		},
		{
			name:    "onload handler",
			text:    `<img onload=steal()>`,
			matched: true,
			pattern: "onload_handler",
		},
		{
			name:    "onerror handler",
			text:    `<img src=x onerror=alert(1)>`,
			matched: true,
			pattern: "onerror_handler",
		},
		{
			name:    "url encoded script tag",
			text:    "payload %3Cscript%3E",
			matched: true,
			pattern: "encoded_script_tag",
		},
		{
			name:    "sql boolean injection",
			text:    `name' OR '1'='1`,
			matched: true,
			pattern: "sql_boolean",
		},
		{
			name:    "sql statement",
			text:    "x; DROP TABLE users",
			matched: true,
			pattern: "sql_statement",
		},
		{
			name:    "select from",
			text:    "SELECT password FROM users",
			matched: true,
			pattern: "sql_statement",
		},
		{name: "word select alone", text: "please select a date", matched: false},
		{name: "word or alone", text: "tea or coffee", matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, pattern := d.Scan(tt.text)
			assert.Equal(t, tt.matched, matched)
			assert.Equal(t, tt.pattern, pattern)
		})
	}
}

func TestDetector_FirstMatchWins(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	// Text matching both the script tag and the javascript uri signature
	// reports the earlier one.
	matched, pattern := d.Scan(`<script>location="javascript:x"</script>`)
	assert.True(t, matched)
	assert.Equal(t, "script_tag", pattern)
}

func TestDetector_CustomSignatures(t *testing.T) {
	d, err := New(Signature{Name: "secret_word", Pattern: `(?i)hunter2`})
	require.NoError(t, err)

	matched, pattern := d.Scan("my password is Hunter2")
	assert.True(t, matched)
	assert.Equal(t, "secret_word", pattern)

	// Custom signatures replace the defaults entirely.
	matched, _ = d.Scan("<script>alert(1)</script>")
	assert.False(t, matched)
}

func TestDetector_InvalidPattern(t *testing.T) {
	_, err := New(Signature{Name: "bad", Pattern: `([unclosed`})
	require.Error(t, err)
}
