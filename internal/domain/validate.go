package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxAgentNameLength = 128

var agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidateAgentName normalizes and validates an agent name: spaces become
// underscores, length is capped at 128, and only letters, digits and
// '.', ':', '_', '-' are allowed.
func ValidateAgentName(name string) (string, error) {
	if name == "" {
		return "", errors.New("agent name cannot be empty")
	}
	name = strings.ReplaceAll(name, " ", "_")
	if len(name) > maxAgentNameLength {
		return "", fmt.Errorf("agent name cannot exceed %d characters", maxAgentNameLength)
	}
	if !agentNamePattern.MatchString(name) {
		return "", fmt.Errorf("agent name %q may only contain letters, digits, '.', ':', '_' and '-'", name)
	}
	return name, nil
}
