package trace

import "strings"

// URLType identifies the type of object being requested.
type URLType int

const (
	URLTypeUnknown  URLType = iota // Unrecognized object (fallback bucket)
	URLTypeManifest                // .m3u8, .mpd, smooth-streaming Manifest
	URLTypeSegment                 // media segment or fragment
	URLTypeInit                    // fMP4 initialization segment
)

// String returns a human-readable name for the URL type.
func (t URLType) String() string {
	switch t {
	case URLTypeManifest:
		return "manifest"
	case URLTypeSegment:
		return "segment"
	case URLTypeInit:
		return "init"
	default:
		return "unknown"
	}
}

var manifestContentTypes = []string{
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"audio/mpegurl",
	"application/dash+xml",
	"application/vnd.ms-sstr+xml",
}

var segmentExtensions = []string{
	".ts", ".m4s", ".m4v", ".m4a", ".aac", ".cmfv", ".cmfa", ".webm", ".vtt", ".webvtt", ".mp4", ".mp3",
}

// Classify determines the type of object an exchange carried.
//
// The response content type wins when it names a manifest format; otherwise
// the object path (without query string) decides.
func Classify(e *Exchange) URLType {
	ct := strings.ToLower(e.ContentType)
	for _, m := range manifestContentTypes {
		if strings.HasPrefix(ct, m) {
			return URLTypeManifest
		}
	}
	t := ClassifyName(e.ObjectName)
	if t == URLTypeInit && e.RangeHeader != "" && !strings.Contains(strings.ToLower(e.FileName()), "init") {
		// Segment-list DASH addresses every fragment of one .mp4 by range.
		return URLTypeSegment
	}
	return t
}

// ClassifyName determines the type of object from its name alone.
//
// Handles both plain URLs and URLs with query strings.
// Returns URLTypeUnknown for unrecognized patterns (fallback bucket).
func ClassifyName(name string) URLType {
	lower := strings.ToLower(StripQuery(name))

	switch {
	case strings.HasSuffix(lower, ".m3u8"), strings.HasSuffix(lower, ".m3u"),
		strings.HasSuffix(lower, ".mpd"):
		return URLTypeManifest
	case strings.HasSuffix(lower, "/manifest"), strings.HasSuffix(lower, ".ism/manifest"),
		strings.HasSuffix(lower, ".isml/manifest"):
		return URLTypeManifest
	case strings.Contains(lower, "/fragments("):
		return URLTypeSegment
	}

	file := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		file = lower[idx+1:]
	}
	if strings.Contains(file, "init") && (strings.HasSuffix(file, ".mp4") || strings.HasSuffix(file, ".m4s") ||
		strings.HasSuffix(file, ".m4v") || strings.HasSuffix(file, ".m4a") || strings.HasSuffix(file, ".cmfv")) {
		return URLTypeInit
	}
	if strings.HasSuffix(file, ".mp4") {
		return URLTypeInit
	}
	for _, ext := range segmentExtensions {
		if strings.HasSuffix(file, ext) {
			return URLTypeSegment
		}
	}
	return URLTypeUnknown
}
