package download

import (
	"errors"
	"strings"

	"github.com/starford/studiopack/internal/apperr"
)

// ErrEmptyFolderName is returned for blank folder names.
var ErrEmptyFolderName = errors.New("folder name is required")

func legalFolderRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == ' ':
		return true
	}
	return false
}

// ValidateFolderName accepts letters, digits, '_', '-' and spaces. Illegal
// characters are reported once each, in order of first appearance, in a
// single *apperr.FolderNameError.
func ValidateFolderName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyFolderName
	}
	var bad []string
	seen := make(map[rune]bool)
	for _, r := range name {
		if legalFolderRune(r) || seen[r] {
			continue
		}
		seen[r] = true
		bad = append(bad, string(r))
	}
	if len(bad) > 0 {
		return &apperr.FolderNameError{Chars: bad}
	}
	return nil
}
