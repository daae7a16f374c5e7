package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestSigner_SignVerify(t *testing.T) {
	s, err := New("test-secret")
	require.NoError(t, err)

	sig := s.Sign("payload")
	assert.Len(t, sig, 64) // hex encoded SHA-256
	assert.True(t, s.Verify("payload", sig))
}

func TestSigner_Deterministic(t *testing.T) {
	s, err := New("test-secret")
	require.NoError(t, err)

	assert.Equal(t, s.Sign("payload"), s.Sign("payload"))
	assert.NotEqual(t, s.Sign("payload"), s.Sign("payload2"))
}

func TestSigner_Verify(t *testing.T) {
	s, err := New("test-secret")
	require.NoError(t, err)

	other, err := New("other-secret")
	require.NoError(t, err)

	sig := s.Sign("payload")

	tests := []struct {
		name      string
		data      string
		signature string
		want      bool
	}{
		{name: "valid", data: "payload", signature: sig, want: true},
		{name: "tampered data", data: "payload2", signature: sig, want: false},
		{name: "tampered signature", data: "payload", signature: "00" + sig[2:], want: false},
		{name: "signature from other secret", data: "payload", signature: other.Sign("payload"), want: false},
		{name: "not hex", data: "payload", signature: "not-hex!", want: false},
		{name: "empty signature", data: "payload", signature: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Verify(tt.data, tt.signature))
		})
	}
}
