package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalSDP = "v=0\r\no=- 4215 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestValidateIDs(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "peer-1", false},
		{"uuid", "9b2f0c7e-8a4d-4c3e-9f1a-2b6d7e8f9a0b", false},
		{"namespaced", "room:alice.bob_2", false},
		{"empty", "", true},
		{"spaces", "peer 1", true},
		{"slash", "peer/1", true},
		{"too long", strings.Repeat("a", maxIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, ValidateConnectionID(tt.id) != nil)
			assert.Equal(t, tt.wantErr, ValidateStreamID(tt.id) != nil)
		})
	}

	assert.ErrorContains(t, ValidateStreamID(""), "stream ID is required")
}

func TestValidateDataChannelLabel(t *testing.T) {
	assert.NoError(t, ValidateDataChannelLabel("chat"))
	assert.Error(t, ValidateDataChannelLabel(""))
	assert.Error(t, ValidateDataChannelLabel("   "))
	assert.Error(t, ValidateDataChannelLabel(strings.Repeat("x", maxLabelLength+1)))
}

func TestValidateSDP(t *testing.T) {
	tests := []struct {
		name    string
		sdp     string
		wantErr bool
	}{
		{"minimal", minimalSDP, false},
		{"lf only", strings.ReplaceAll(minimalSDP, "\r\n", "\n"), false},
		{"empty", "", true},
		{"no version", "o=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", true},
		{"no timing", "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\n", true},
		{"not sdp", "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSDP(tt.sdp)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateICEServerURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"stun:stun.l.google.com:19302", false},
		{"turn:turn.example.com:3478?transport=tcp", false},
		{"turns:turn.example.com:5349", false},
		{"", true},
		{"http://stun.example.com", true},
		{"stun:", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, ValidateICEServerURL(tt.url) != nil)
		})
	}
}
