// Package redactor scrubs credentials from text before it reaches log files
// or archived reports. Matches are replaced with deterministic placeholders
// like <SONAR_TOKEN-9f86d081>.
package redactor

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// pattern represents a redaction pattern with its tag and compiled regex.
type pattern struct {
	tag string
	re  *regexp.Regexp
}

// patterns contains all compiled redaction patterns.
// Order matters: more specific patterns should come before generic ones.
var patterns = []pattern{
	// SonarQube user, project analysis and global analysis tokens
	{"SONAR_TOKEN", regexp.MustCompile(`\bsq[upa]_[A-Za-z0-9]{40}\b`)},

	// Auth headers
	{"BEARER", regexp.MustCompile(`\bBearer\s+[A-Za-z0-9_.-]{20,}`)},
	{"BASIC_AUTH", regexp.MustCompile(`\bBasic\s+[A-Za-z0-9+/=]{10,}`)},

	// URL credentials
	{"URL_CREDS", regexp.MustCompile(`://[^/:@\s]+:[^/@\s]+@[^/\s]+`)},

	// Generic secret assignments (last, as catch-all)
	{"ENV_SECRET", regexp.MustCompile(`(?i)\b(password|secret|token|api_key)\s*[=:]\s*["']?[^\s"'&]{8,}`)},
}

// placeholder generates a deterministic placeholder for a redacted value.
// Format: <TAG-XXXXXXXX> where XXXXXXXX is the first 4 bytes of SHA-256 hash.
func placeholder(tag, original string) string {
	hash := sha256.Sum256([]byte(original))
	return fmt.Sprintf("<%s-%x>", tag, hash[:4])
}

// Redact applies all redaction patterns to a string.
func Redact(s string) string {
	for _, p := range patterns {
		s = p.re.ReplaceAllStringFunc(s, func(m string) string {
			return placeholder(p.tag, m)
		})
	}
	return s
}

// Mask hides all but the last four characters of a secret for display.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
