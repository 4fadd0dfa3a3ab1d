// Package security validates names that end up in remote object paths.
package security

import (
	"errors"
	"path"
	"strings"
	"unicode"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrInvalidPath   = errors.New("invalid object name")
)

// ValidateObjectName checks that name is safe to use as a file or object key:
// relative, free of ".." segments and control characters.
func ValidateObjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidPath
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return ErrInvalidPath
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return ErrInvalidPath
	}

	for _, segment := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return ErrPathTraversal
		}
	}
	if cleaned := path.Clean(name); cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return ErrPathTraversal
	}
	return nil
}
