// Package privacy scrubs credentials out of text before it is stored or sent to Slack.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

type rule struct {
	re *regexp.Regexp
	// keep preserves capture group 1 in front of the marker.
	keep bool
}

var rules = []rule{
	// key=value and key: value assignments; the key is preserved.
	{re: regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|secret[_-]?key|access[_-]?token|auth[_-]?token|password|passwd|token)\s*[:=]\s*['"]?)[^\s'",&]{6,}`), keep: true},
	{re: regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]{16,}`), keep: true},
	// Query string credentials.
	{re: regexp.MustCompile(`(?i)([?&](?:key|api_key|token|access_token)=)[^&\s]+`), keep: true},
	{re: regexp.MustCompile(`https://hooks\.slack\.com/services/[A-Za-z0-9/_-]+`)},
	{re: regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{re: regexp.MustCompile(`sk-(?:proj-|ant-)?[A-Za-z0-9_-]{20,}`)},
	{re: regexp.MustCompile(`xox[abprs]-[A-Za-z0-9-]{10,}`)},
	{re: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{re: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
}

// ContainsSecrets reports whether text has anything Scrub would redact.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range rules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

// Scrub returns text with credentials replaced by Marker.
func Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, r := range rules {
		if r.keep {
			text = r.re.ReplaceAllString(text, "${1}"+Marker)
			continue
		}
		text = r.re.ReplaceAllLiteralString(text, Marker)
	}
	return text
}

// ScrubMap scrubs string values of m recursively and returns a new map.
func ScrubMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKey(k) {
			if s, ok := v.(string); ok && s != "" {
				out[k] = Marker
				continue
			}
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case string:
		return Scrub(t)
	case map[string]any:
		return ScrubMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = scrubValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = Scrub(item)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"password", "secret", "token", "api_key", "apikey", "webhook"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
