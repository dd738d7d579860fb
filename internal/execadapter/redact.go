package execadapter

import (
	"regexp"
	"strings"
)

var (
	sensitiveKeyRE      = regexp.MustCompile(`(?i)(password|private[_-]?key|token|secret|pwd)`)
	placeholderValueRE  = regexp.MustCompile(`^\{[A-Za-z0-9_]+\}$`)
	nonAlphanumericRE   = regexp.MustCompile(`[^A-Za-z0-9]+`)
	camelCaseBoundaryRE = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// Redact replaces values under secret-looking keys with reusable
// placeholders like {root_password}, recursively. Values that already look
// like placeholders are kept so redacted documents stay stable.
func Redact(obj any) any {
	switch v := obj.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if sensitiveKeyRE.MatchString(k) {
				if s, ok := item.(string); ok && placeholderValueRE.MatchString(s) {
					out[k] = s
				} else {
					out[k] = "{" + placeholderName(k) + "}"
				}
				continue
			}
			out[k] = Redact(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	default:
		return obj
	}
}

// RedactStringMap redacts a flat string map, for headers and query params.
func RedactStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if sensitiveKeyRE.MatchString(k) {
			out[k] = "{" + placeholderName(k) + "}"
			continue
		}
		out[k] = v
	}
	return out
}

// RedactRequest returns a copy of req safe to persist in session files and
// generated scenarios.
func RedactRequest(req Request) Request {
	out := req
	out.Headers = RedactStringMap(req.Headers)
	out.Query = RedactStringMap(req.Query)
	if req.Body != nil {
		out.Body = Redact(req.Body).(map[string]any)
	}
	return out
}

func placeholderName(key string) string {
	key = nonAlphanumericRE.ReplaceAllString(key, "_")
	key = camelCaseBoundaryRE.ReplaceAllString(key, "${1}_${2}")
	key = strings.ToLower(strings.Trim(key, "_"))
	if key == "" {
		return "redacted"
	}
	return key
}
