package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// attributeRe matches HLS attribute-list pairs. Quoted values may contain
// commas.
// Example: BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720
var attributeRe = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// parseAttributes parses an HLS attribute list into a map with unquoted
// values.
func parseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range attributeRe.FindAllStringSubmatch(s, -1) {
		out[m[1]] = strings.Trim(m[2], `"`)
	}
	return out
}

// parseResolution parses "1280x720".
func parseResolution(s string) (w, h int) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0
	}
	w, _ = strconv.Atoi(strings.TrimSpace(ws))
	h, _ = strconv.Atoi(strings.TrimSpace(hs))
	return w, h
}

// templateVarRe matches DASH template identifiers.
// Example: $Number%05d$, $RepresentationID$, $Time$
var templateVarRe = regexp.MustCompile(`\$(RepresentationID|Number|Bandwidth|Time|SubNumber)(%0(\d+)[dxX])?\$`)

type templateVars struct {
	RepresentationID string
	Number           int64
	Bandwidth        float64
	Time             int64
}

// expandTemplate substitutes DASH template identifiers. "$$" is an escaped
// dollar sign.
func expandTemplate(tmpl string, v templateVars) string {
	const escaped = "\x00"
	tmpl = strings.ReplaceAll(tmpl, "$$", escaped)
	out := templateVarRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		m := templateVarRe.FindStringSubmatch(tok)
		var n int64
		switch m[1] {
		case "RepresentationID":
			return v.RepresentationID
		case "Number":
			n = v.Number
		case "Bandwidth":
			n = int64(v.Bandwidth)
		case "Time":
			n = v.Time
		case "SubNumber":
			n = 0
		}
		if m[3] != "" {
			width, _ := strconv.Atoi(m[3])
			return fmt.Sprintf("%0*d", width, n)
		}
		return strconv.FormatInt(n, 10)
	})
	return strings.ReplaceAll(out, escaped, "$")
}

// templateMatcher recognizes object names generated from a template.
type templateMatcher struct {
	re *regexp.Regexp
}

// newTemplateMatcher builds a matcher for tmpl with the representation
// fields fixed. It matches against the end of an object path.
func newTemplateMatcher(tmpl, repID string, bandwidth float64) *templateMatcher {
	if tmpl == "" {
		return nil
	}
	tmpl = strings.ReplaceAll(tmpl, "$$", "$")
	var b strings.Builder
	b.WriteString(`(?:^|/)`)
	last := 0
	for _, loc := range templateVarRe.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(regexp.QuoteMeta(tmpl[last:loc[0]]))
		switch tmpl[loc[2]:loc[3]] {
		case "RepresentationID":
			b.WriteString(regexp.QuoteMeta(repID))
		case "Bandwidth":
			b.WriteString(`0*` + strconv.FormatInt(int64(bandwidth), 10))
		case "Number":
			b.WriteString(`(?P<number>\d+)`)
		case "Time":
			b.WriteString(`(?P<time>\d+)`)
		default:
			b.WriteString(`\d+`)
		}
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(tmpl[last:]))
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return &templateMatcher{re: re}
}

// match reports whether path was generated by the template, returning the
// $Number$ and $Time$ values (-1 when the template has no such field).
func (tm *templateMatcher) match(path string) (number, t int64, ok bool) {
	if tm == nil {
		return -1, -1, false
	}
	m := tm.re.FindStringSubmatch(path)
	if m == nil {
		return -1, -1, false
	}
	number, t = -1, -1
	for i, name := range tm.re.SubexpNames() {
		switch name {
		case "number":
			number, _ = strconv.ParseInt(m[i], 10, 64)
		case "time":
			t, _ = strconv.ParseInt(m[i], 10, 64)
		}
	}
	return number, t, true
}
