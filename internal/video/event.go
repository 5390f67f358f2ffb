// Package video aggregates correlated segment downloads into streams and
// reconstructs the playback timeline of a trace.
package video

import (
	"fmt"

	"github.com/randomizedcoder/go-video-trace/internal/manifest"
	"github.com/randomizedcoder/go-video-trace/internal/trace"
)

// VideoEvent is one concrete download of a segment.
//
// StartTS and EndTS are download timestamps in trace seconds.
// SegmentStartTime is the segment's position on the manifest timeline.
// PlayTime starts out equal to SegmentStartTime and only becomes a
// playback estimate in the compiled timeline.
type VideoEvent struct {
	Exchange *trace.Exchange
	Segment  *manifest.SegmentInfo
	Child    *manifest.ChildManifest
	Manifest *manifest.Manifest

	ContentType manifest.ContentType
	Quality     string
	SegmentID   int
	Bitrate     float64 // declared, bits per second
	Size        int64
	Range       trace.ByteRange
	Width       int
	Height      int
	Channels    int

	StartTS          float64
	EndTS            float64
	SegmentStartTime float64
	Duration         float64
	PlayTime         float64
	PlayTimeEnd      float64
	StallTime        float64 // stall inserted before this segment played

	Normal   bool // counts toward playtime and stall math
	Selected bool // the copy chosen to play this segment id
	Active   bool // part of the compiled timeline

	AudioEvents []*VideoEvent
}

// EventKey is the identity of a download. Content type is not part of it:
// events are already partitioned by content type wherever keys are
// compared.
type EventKey struct {
	EndTS     float64
	StartTS   float64
	SegmentID int
	Bitrate   float64
	Range     trace.ByteRange
	Width     int
	Height    int
}

// Key returns the event's identity.
func (e *VideoEvent) Key() EventKey {
	return EventKey{
		EndTS:     e.EndTS,
		StartTS:   e.StartTS,
		SegmentID: e.SegmentID,
		Bitrate:   e.Bitrate,
		Range:     e.Range,
		Width:     e.Width,
		Height:    e.Height,
	}
}

// Equal reports whether two events describe the same download.
func (e *VideoEvent) Equal(o *VideoEvent) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Key() == o.Key()
}

// DownloadTime returns the seconds spent downloading the segment.
func (e *VideoEvent) DownloadTime() float64 {
	if e.EndTS <= e.StartTS {
		return 0
	}
	return e.EndTS - e.StartTS
}

// Throughput returns the download rate in bits per second, or 0.
func (e *VideoEvent) Throughput() float64 {
	dt := e.DownloadTime()
	if dt <= 0 || e.Size <= 0 {
		return 0
	}
	return float64(e.Size) * 8 / dt
}

// ObservedBitrate returns the encoded rate implied by the downloaded size,
// in bits per second, or 0.
func (e *VideoEvent) ObservedBitrate() float64 {
	if e.Duration <= 0 || e.Size <= 0 {
		return 0
	}
	return float64(e.Size) * 8 / e.Duration
}

// Label returns the quality label used for grouping in reports.
func (e *VideoEvent) Label() string {
	if e.Quality != "" {
		return e.Quality
	}
	if e.Child != nil {
		return e.Child.Label()
	}
	return "unknown"
}

func (e *VideoEvent) String() string {
	return fmt.Sprintf("%s/%s#%d [%.3f-%.3f]", e.ContentType, e.Label(), e.SegmentID, e.StartTS, e.EndTS)
}

func (e *VideoEvent) clone() *VideoEvent {
	c := *e
	c.AudioEvents = nil
	return &c
}

// Reason classifies a download that produced no usable event.
type Reason int

const (
	ReasonUnmatched      Reason = iota // no lineage indexes the object
	ReasonRangeUnmatched               // object known, byte range not declared
	ReasonHTTPError                    // status 0 or >= 400 with no indexed segment
	ReasonNoManifest                   // segment seen before any manifest
	ReasonInternal                     // correlation panicked
)

func (r Reason) String() string {
	switch r {
	case ReasonUnmatched:
		return "unmatched"
	case ReasonRangeUnmatched:
		return "range_unmatched"
	case ReasonHTTPError:
		return "http_error"
	case ReasonNoManifest:
		return "no_manifest"
	case ReasonInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// FailedRequest records a download that could not be turned into a
// VideoEvent.
type FailedRequest struct {
	Exchange  *trace.Exchange
	Reason    Reason
	SegmentID int // UnmatchedID unless the track was known
	Detail    string
}
