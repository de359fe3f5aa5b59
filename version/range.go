package version

import (
	"fmt"
	"strings"
)

// Range is an interval of versions. A nil Right means unbounded.
type Range struct {
	Left        Version
	LeftClosed  bool
	Right       *Version
	RightClosed bool
}

// AnyVersion matches every version.
var AnyVersion = Range{Left: Empty, LeftClosed: true}

// ParseRange parses interval notation such as "[1.0,2.0)". A bare version
// "1.0" means at least 1.0. An empty string means any version.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AnyVersion, nil
	}

	first, last := s[0], s[len(s)-1]
	if first != '[' && first != '(' {
		v, err := Parse(s)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
		}
		return Range{Left: v, LeftClosed: true}, nil
	}
	if last != ']' && last != ')' {
		return Range{}, fmt.Errorf("%w: %q is not terminated", ErrInvalidRange, s)
	}

	bounds := strings.Split(s[1:len(s)-1], ",")
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("%w: %q needs two bounds", ErrInvalidRange, s)
	}
	left, err := Parse(bounds[0])
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	right, err := Parse(bounds[1])
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	r := Range{
		Left:        left,
		LeftClosed:  first == '[',
		Right:       &right,
		RightClosed: last == ']',
	}
	if r.IsEmpty() {
		return Range{}, fmt.Errorf("%w: %q is empty", ErrInvalidRange, s)
	}
	return r, nil
}

// Includes reports whether v lies inside the range.
func (r Range) Includes(v Version) bool {
	c := v.Compare(r.Left)
	if c < 0 || (c == 0 && !r.LeftClosed) {
		return false
	}
	if r.Right == nil {
		return true
	}
	c = v.Compare(*r.Right)
	return c < 0 || (c == 0 && r.RightClosed)
}

// IsEmpty reports whether no version can satisfy the range.
func (r Range) IsEmpty() bool {
	if r.Right == nil {
		return false
	}
	c := r.Left.Compare(*r.Right)
	return c > 0 || (c == 0 && !(r.LeftClosed && r.RightClosed))
}

// FilterString renders the range as a filter expression over attr.
func (r Range) FilterString(attr string) string {
	var b strings.Builder
	if r.Right != nil {
		b.WriteString("(&")
	}
	if r.LeftClosed {
		fmt.Fprintf(&b, "(%s>=%s)", attr, r.Left)
	} else {
		fmt.Fprintf(&b, "(!(%s<=%s))", attr, r.Left)
	}
	if r.Right != nil {
		if r.RightClosed {
			fmt.Fprintf(&b, "(%s<=%s)", attr, r.Right)
		} else {
			fmt.Fprintf(&b, "(!(%s>=%s))", attr, r.Right)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (r Range) String() string {
	if r.Right == nil {
		return r.Left.String()
	}
	open, end := "(", ")"
	if r.LeftClosed {
		open = "["
	}
	if r.RightClosed {
		end = "]"
	}
	return fmt.Sprintf("%s%s,%s%s", open, r.Left, r.Right, end)
}
