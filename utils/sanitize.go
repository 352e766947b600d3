package utils

import (
	"path"
	"strings"
	"unicode"
)

// SanitizeHeaderFilename removes characters that can break headers.
func SanitizeHeaderFilename(name string) string {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "download"
	}
	clean = strings.ReplaceAll(clean, "\r", "")
	clean = strings.ReplaceAll(clean, "\n", "")
	clean = strings.ReplaceAll(clean, "\"", "")
	return clean
}

const maxObjectNameLen = 200

// SanitizeObjectName turns a user supplied display name into a single safe
// object key segment.
func SanitizeObjectName(name string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	clean = path.Base(clean)
	clean = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r == '"' || r == '?' || r == '#' || r == '%':
			return '_'
		}
		return r
	}, clean)
	clean = strings.TrimSpace(clean)
	if clean == "" || clean == "." || clean == ".." || clean == "/" {
		return "object"
	}
	if len(clean) > maxObjectNameLen {
		cut := maxObjectNameLen
		for cut > 0 && !isRuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}
	return clean
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
