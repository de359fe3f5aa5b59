package filter

import (
	"strconv"
	"strings"

	"github.com/GoCodeAlone/modwire/version"
)

// compareValue applies a leaf node to an attribute value. The operand text is
// interpreted according to the attribute's type; an operand that cannot be
// converted never matches.
func compareValue(n *node, value any) bool {
	switch v := value.(type) {
	case string:
		return compareString(n, v)
	case version.Version:
		return compareVersion(n, v)
	case *version.Version:
		return v != nil && compareVersion(n, *v)
	case int:
		return compareInt(n, int64(v))
	case int32:
		return compareInt(n, int64(v))
	case int64:
		return compareInt(n, v)
	case uint:
		return compareInt(n, int64(v))
	case float32:
		return compareFloat(n, float64(v))
	case float64:
		return compareFloat(n, v)
	case bool:
		return compareBool(n, v)
	case []string:
		for _, elem := range v {
			if compareString(n, elem) {
				return true
			}
		}
		return false
	case []version.Version:
		for _, elem := range v {
			if compareVersion(n, elem) {
				return true
			}
		}
		return false
	case []any:
		for _, elem := range v {
			if elem != nil && compareValue(n, elem) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func compareString(n *node, s string) bool {
	switch n.op {
	case opEqual:
		return s == n.value
	case opApprox:
		return normalizeApprox(s) == normalizeApprox(n.value)
	case opGreaterEqual:
		return s >= n.value
	case opLessEqual:
		return s <= n.value
	case opSubstring:
		return matchSubstring(n.parts, s)
	default:
		return false
	}
}

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// matchSubstring matches s against pieces split on '*'. The first and last
// pieces anchor the start and end; empty pieces leave that end open.
func matchSubstring(parts []string, s string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]
	for _, piece := range middle {
		if piece == "" {
			continue
		}
		idx := strings.Index(s, piece)
		if idx < 0 {
			return false
		}
		s = s[idx+len(piece):]
	}
	return strings.HasSuffix(s, last)
}

func compareVersion(n *node, v version.Version) bool {
	if n.op == opSubstring {
		return matchSubstring(n.parts, v.String())
	}
	operand, err := version.Parse(n.value)
	if err != nil {
		return false
	}
	c := v.Compare(operand)
	switch n.op {
	case opEqual, opApprox:
		return c == 0
	case opGreaterEqual:
		return c >= 0
	case opLessEqual:
		return c <= 0
	default:
		return false
	}
}

func compareInt(n *node, v int64) bool {
	operand, err := strconv.ParseInt(strings.TrimSpace(n.value), 10, 64)
	if err != nil {
		return false
	}
	switch n.op {
	case opEqual, opApprox:
		return v == operand
	case opGreaterEqual:
		return v >= operand
	case opLessEqual:
		return v <= operand
	default:
		return false
	}
}

func compareFloat(n *node, v float64) bool {
	operand, err := strconv.ParseFloat(strings.TrimSpace(n.value), 64)
	if err != nil {
		return false
	}
	switch n.op {
	case opEqual, opApprox:
		return v == operand
	case opGreaterEqual:
		return v >= operand
	case opLessEqual:
		return v <= operand
	default:
		return false
	}
}

func compareBool(n *node, v bool) bool {
	if n.op != opEqual && n.op != opApprox {
		return false
	}
	operand, err := strconv.ParseBool(strings.TrimSpace(n.value))
	if err != nil {
		return false
	}
	return v == operand
}
