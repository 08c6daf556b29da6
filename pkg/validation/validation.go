package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	maxIDLength    = 128
	maxLabelLength = 1024
)

var (
	// IDRegex validates connection and stream identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	iceSchemes = map[string]bool{
		"stun":  true,
		"stuns": true,
		"turn":  true,
		"turns": true,
	}
)

// ValidateConnectionID validates connection ID
func ValidateConnectionID(id string) error {
	return validateID(id, "connection ID")
}

// ValidateStreamID validates stream ID
func ValidateStreamID(id string) error {
	return validateID(id, "stream ID")
}

func validateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateDataChannelLabel validates a data channel label
func ValidateDataChannelLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("data channel label is required")
	}
	if len(label) > maxLabelLength {
		return fmt.Errorf("data channel label is too long (max %d bytes)", maxLabelLength)
	}
	return nil
}

// ValidateSDP checks that sdp looks like a session description: it must start
// with the version line and carry the origin, session name and timing lines.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, "\n"+field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN URL such as
// "stun:stun.l.google.com:19302" or "turn:turn.example.com?transport=tcp".
func ValidateICEServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("ICE server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ICE server URL: %w", err)
	}
	if !iceSchemes[u.Scheme] {
		return fmt.Errorf("invalid ICE server URL scheme %q (must be stun, stuns, turn or turns)", u.Scheme)
	}
	if u.Opaque == "" {
		return fmt.Errorf("ICE server URL must have a host")
	}
	return nil
}
