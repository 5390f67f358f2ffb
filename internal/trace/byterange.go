package trace

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is an inclusive byte range [Begin, End].
type ByteRange struct {
	Begin int64
	End   int64
}

// ParseByteRange parses "begin-end" in any of the forms seen in captures:
//
//	bytes=100-199        (Range request header)
//	bytes 100-199/5000   (Content-Range response header)
//	100-199              (DASH mediaRange / indexRange)
//	0x64-0xc7            (hex, as some capture tools emit)
//
// Open-ended ranges ("100-") are rejected since they cannot be matched
// exactly against a manifest entry.
func ParseByteRange(s string) (ByteRange, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "bytes=")
	s = strings.TrimPrefix(s, "bytes ")
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	// Multi-range requests are matched on their first range only.
	if idx := strings.Index(s, ","); idx >= 0 {
		s = s[:idx]
	}

	begin, end, ok := strings.Cut(s, "-")
	if !ok {
		return ByteRange{}, false
	}
	b, ok := parseOffset(begin)
	if !ok {
		return ByteRange{}, false
	}
	e, ok := parseOffset(end)
	if !ok || e < b {
		return ByteRange{}, false
	}
	return ByteRange{Begin: b, End: e}, true
}

// FromLengthOffset builds a range from the HLS "length@offset" form.
func FromLengthOffset(length, offset int64) ByteRange {
	return ByteRange{Begin: offset, End: offset + length - 1}
}

func parseOffset(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		return v, err == nil && v >= 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, v >= 0
	}
	v, err := strconv.ParseInt(s, 16, 64)
	return v, err == nil && v >= 0
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 {
	if r.End < r.Begin {
		return 0
	}
	return r.End - r.Begin + 1
}

// IsZero reports whether the range is unset.
func (r ByteRange) IsZero() bool {
	return r.Begin == 0 && r.End == 0
}

// String formats the range as "begin-end".
func (r ByteRange) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d-%d", r.Begin, r.End)
}
