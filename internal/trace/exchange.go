// Package trace defines the HTTP exchange records consumed by the analyzer.
//
// Records are produced by the packet-capture and session-reassembly layer,
// which is outside this module. The analyzer only requires that exchanges
// arrive sorted by request timestamp and that manifest payloads are already
// materialized in memory.
package trace

import (
	"net/url"
	"path"
	"strings"
)

// Session is the network session an exchange was carried on.
type Session struct {
	ID         int    `yaml:"id"`
	Host       string `yaml:"host"`
	RemoteIP   string `yaml:"remote_ip"`
	RemotePort int    `yaml:"remote_port"`
	TLS        bool   `yaml:"tls"`
}

// Exchange is one HTTP request/response pair.
//
// Timestamps are seconds relative to the start of the capture.
type Exchange struct {
	ID      int
	Session *Session

	RequestTime  float64
	ResponseTime float64

	Method        string
	Host          string
	ObjectName    string // request target, including any query string
	StatusCode    int
	ContentLength int64
	RangeHeader   string
	ContentType   string

	// Payload holds the response body when the capture layer kept it
	// (manifests). Segment bodies are normally not retained.
	Payload []byte
}

// URL returns the absolute URL of the requested object.
func (e *Exchange) URL() string {
	if strings.HasPrefix(e.ObjectName, "http://") || strings.HasPrefix(e.ObjectName, "https://") {
		return e.ObjectName
	}
	scheme := "http"
	if e.Session != nil && e.Session.TLS {
		scheme = "https"
	}
	host := e.Host
	if host == "" && e.Session != nil {
		host = e.Session.Host
	}
	obj := e.ObjectName
	if !strings.HasPrefix(obj, "/") {
		obj = "/" + obj
	}
	return scheme + "://" + host + obj
}

// Path returns the object name without query string or fragment.
func (e *Exchange) Path() string {
	return StripQuery(e.ObjectName)
}

// FileName returns the last element of the object path.
func (e *Exchange) FileName() string {
	return FileName(e.ObjectName)
}

// Failed reports whether the response is missing or an HTTP error.
func (e *Exchange) Failed() bool {
	return e.StatusCode == 0 || e.StatusCode >= 400
}

// ByteRange returns the requested byte range, if the request had one.
func (e *Exchange) ByteRange() (ByteRange, bool) {
	if e.RangeHeader == "" {
		return ByteRange{}, false
	}
	return ParseByteRange(e.RangeHeader)
}

// DownloadTime returns the seconds between request and last response byte.
func (e *Exchange) DownloadTime() float64 {
	if e.ResponseTime <= e.RequestTime {
		return 0
	}
	return e.ResponseTime - e.RequestTime
}

// StripQuery removes a query string or fragment from an object name or URL.
func StripQuery(name string) string {
	if idx := strings.IndexAny(name, "?#"); idx >= 0 {
		return name[:idx]
	}
	return name
}

// FileName returns the last path element of an object name or URL,
// ignoring any query string.
func FileName(name string) string {
	p := StripQuery(name)
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// ResolveReference resolves ref against the URL of the exchange that
// fetched the referencing manifest. Absolute references are returned as is.
func ResolveReference(base, ref string) string {
	if ref == "" {
		return base
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		if strings.HasPrefix(ref, "/") {
			return ref
		}
		dir := path.Dir(StripQuery(base))
		if dir == "." {
			return ref
		}
		return dir + "/" + ref
	}
	return b.ResolveReference(r).String()
}
