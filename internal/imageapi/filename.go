package imageapi

import (
	"strings"

	"github.com/google/uuid"
)

const (
	maxFileNameWords = 10
	maxFileNameChars = 100
)

// DeriveFileName suggests an import filename from a provider caption. Short
// captions are kept as-is; missing, wordy or long ones become a random token.
func DeriveFileName(originalName *string) string {
	if originalName == nil {
		return uuid.NewString()
	}
	name := strings.TrimSpace(*originalName)
	if name == "" ||
		len(strings.Split(name, " ")) > maxFileNameWords ||
		len([]rune(name)) > maxFileNameChars {
		return uuid.NewString()
	}
	return name
}
