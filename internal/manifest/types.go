// Package manifest holds the format-agnostic streaming manifest model.
//
// Every dialect parser produces the same tree: a Manifest owning ordered
// ChildManifests (one per quality track), each owning an ordered index of
// SegmentInfo keyed by segment URI. Dialect-specific data lives in a sealed
// Dialect value on the Manifest.
package manifest

import "strings"

// VideoType identifies the adaptive-streaming dialect of a manifest.
type VideoType int

const (
	VideoTypeUnknown         VideoType = iota
	VideoTypeDASH                      // segment template
	VideoTypeDASHSegmentList           // segment list / byte range
	VideoTypeDASHPlayReady             // PlayReady-protected DASH
	VideoTypeHLS
	VideoTypeSmooth
)

// String returns a short name for the dialect.
func (t VideoType) String() string {
	switch t {
	case VideoTypeDASH:
		return "dash"
	case VideoTypeDASHSegmentList:
		return "dash_segment_list"
	case VideoTypeDASHPlayReady:
		return "dash_playready"
	case VideoTypeHLS:
		return "hls"
	case VideoTypeSmooth:
		return "smooth_streaming"
	default:
		return "unknown"
	}
}

// IsDASH reports whether the dialect is one of the MPD variants.
func (t VideoType) IsDASH() bool {
	return t == VideoTypeDASH || t == VideoTypeDASHSegmentList || t == VideoTypeDASHPlayReady
}

// Role distinguishes master manifests from per-track playlists.
type Role int

const (
	RoleUnknown Role = iota
	RoleMaster
	RoleChild
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleChild:
		return "child"
	default:
		return "unknown"
	}
}

// ContentType is the media carried by a track or segment.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentVideo
	ContentAudio
	ContentMuxed
	ContentSubtitle
)

func (c ContentType) String() string {
	switch c {
	case ContentVideo:
		return "video"
	case ContentAudio:
		return "audio"
	case ContentMuxed:
		return "muxed"
	case ContentSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// CarriesVideo reports whether segments of this type are played as video.
func (c ContentType) CarriesVideo() bool {
	return c == ContentVideo || c == ContentMuxed
}

// ParseContentType maps a MIME type, DASH contentType attribute, HLS
// EXT-X-MEDIA TYPE or smooth-streaming StreamIndex Type to a ContentType.
func ParseContentType(s string) ContentType {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return ContentUnknown
	case strings.HasPrefix(s, "video"):
		return ContentVideo
	case strings.HasPrefix(s, "audio"):
		return ContentAudio
	case strings.HasPrefix(s, "text"), strings.HasPrefix(s, "subtitle"),
		strings.HasPrefix(s, "closed-captions"), s == "application/ttml+xml",
		strings.Contains(s, "vtt"):
		return ContentSubtitle
	default:
		return ContentUnknown
	}
}

// ContentTypeFromCodecs classifies a track from its RFC 6381 codec string.
func ContentTypeFromCodecs(codecs string) ContentType {
	if codecs == "" {
		return ContentUnknown
	}
	var video, audio, text bool
	for _, c := range strings.Split(strings.ToLower(codecs), ",") {
		c = strings.TrimSpace(c)
		switch {
		case strings.HasPrefix(c, "avc"), strings.HasPrefix(c, "hvc"), strings.HasPrefix(c, "hev"),
			strings.HasPrefix(c, "vp0"), strings.HasPrefix(c, "vp9"), strings.HasPrefix(c, "av01"),
			strings.HasPrefix(c, "dvh"), strings.HasPrefix(c, "h264"):
			video = true
		case strings.HasPrefix(c, "mp4a"), strings.HasPrefix(c, "ac-3"), strings.HasPrefix(c, "ec-3"),
			strings.HasPrefix(c, "opus"), strings.HasPrefix(c, "flac"), strings.HasPrefix(c, "aac"):
			audio = true
		case strings.HasPrefix(c, "wvtt"), strings.HasPrefix(c, "stpp"):
			text = true
		}
	}
	switch {
	case video && audio:
		return ContentMuxed
	case video:
		return ContentVideo
	case audio:
		return ContentAudio
	case text:
		return ContentSubtitle
	default:
		return ContentUnknown
	}
}
