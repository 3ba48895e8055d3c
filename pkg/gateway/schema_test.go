package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessagePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"should accept a well-formed payload", `{"message":"Hi","sessionId":"s1"}`, false},
		{"should accept extra fields", `{"message":"Hi","sessionId":"s1","extra":true}`, false},
		{"should reject a missing message", `{"sessionId":"s1"}`, true},
		{"should reject a missing session id", `{"message":"Hi"}`, true},
		{"should reject an empty message", `{"message":"","sessionId":"s1"}`, true},
		{"should reject an empty session id", `{"message":"Hi","sessionId":""}`, true},
		{"should reject a non-string message", `{"message":42,"sessionId":"s1"}`, true},
		{"should reject a bare string", `"just text"`, true},
		{"should reject invalid JSON", `{"message":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMessagePayload([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
