package tracker

import (
	"regexp"
	"strconv"
	"strings"
)

func placeholderPattern() *regexp.Regexp {
	return regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
}

// ExtractValue pulls a value out of a response body by eval path, e.g.
// "body.clusterId" or "tidbNodeSetting.tidbNodeGroups[0].tidbNodeGroupId".
// The optional leading "body." is stripped.
func ExtractValue(body map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(path, "body.")
	var current any = body
	for _, part := range parsePath(path) {
		switch p := part.(type) {
		case int:
			list, ok := current.([]any)
			if !ok || p < 0 || p >= len(list) {
				return nil, false
			}
			current = list[p]
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[p]
			if !ok {
				return nil, false
			}
		}
	}
	return current, true
}

// parsePath splits "a.b[0].c" into ["a", "b", 0, "c"].
func parsePath(path string) []any {
	var parts []any
	for _, segment := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(segment, '[')
			if open < 0 {
				if segment != "" {
					parts = append(parts, segment)
				}
				break
			}
			if base := segment[:open]; base != "" {
				parts = append(parts, base)
			}
			closing := strings.IndexByte(segment, ']')
			if closing < open {
				break
			}
			if idx, err := strconv.Atoi(segment[open+1 : closing]); err == nil {
				parts = append(parts, idx)
			}
			segment = segment[closing+1:]
		}
	}
	return parts
}

// IDField returns the body field that carries a resource type's id,
// e.g. cluster -> clusterId, tidb_node_group -> tidbNodeGroupId.
func IDField(resourceType string) string {
	return camelCase(resourceType) + "Id"
}

// TypeFromIDField is the inverse of IDField; returns "" for non-id fields.
func TypeFromIDField(field string) string {
	base, ok := strings.CutSuffix(field, "Id")
	if !ok || base == "" {
		return ""
	}
	return snakeCase(base)
}

func camelCase(snake string) string {
	parts := strings.Split(snake, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

func snakeCase(camel string) string {
	var sb strings.Builder
	for i, r := range camel {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r - 'A' + 'a')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
