package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrNoExchanges is returned when a trace contains no HTTP exchanges.
var ErrNoExchanges = errors.New("trace contains no http exchanges")

// Trace is a loaded capture: sessions plus exchanges in request order.
type Trace struct {
	ID        string
	Name      string
	Dir       string
	Sessions  []*Session
	Exchanges []*Exchange
}

// indexFile is the on-disk YAML index written by the capture layer.
type indexFile struct {
	Name      string          `yaml:"name"`
	Sessions  []*Session      `yaml:"sessions"`
	Exchanges []exchangeEntry `yaml:"exchanges"`
}

type exchangeEntry struct {
	Session       int     `yaml:"session"`
	RequestTime   float64 `yaml:"request_time"`
	ResponseTime  float64 `yaml:"response_time"`
	Method        string  `yaml:"method"`
	Host          string  `yaml:"host"`
	Object        string  `yaml:"object"`
	Status        int     `yaml:"status"`
	ContentLength int64   `yaml:"content_length"`
	Range         string  `yaml:"range"`
	ContentType   string  `yaml:"content_type"`
	Payload       string  `yaml:"payload"`      // file relative to the index
	PayloadText   string  `yaml:"payload_text"` // inline body, mostly for fixtures
}

// Load reads a trace index file. Payload paths are resolved relative to the
// directory holding the index.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace index: %w", err)
	}
	defer f.Close()

	return Decode(f, filepath.Dir(path))
}

// Decode reads a trace index from r. dir is used to resolve payload files.
func Decode(r io.Reader, dir string) (*Trace, error) {
	var idx indexFile
	if err := yaml.NewDecoder(r).Decode(&idx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoExchanges
		}
		return nil, fmt.Errorf("decode trace index: %w", err)
	}
	if len(idx.Exchanges) == 0 {
		return nil, ErrNoExchanges
	}

	sessions := make(map[int]*Session, len(idx.Sessions))
	for _, s := range idx.Sessions {
		sessions[s.ID] = s
	}

	t := &Trace{
		ID:       uuid.NewString(),
		Name:     idx.Name,
		Dir:      dir,
		Sessions: idx.Sessions,
	}

	for i, e := range idx.Exchanges {
		ex := &Exchange{
			ID:            i + 1,
			Session:       sessions[e.Session],
			RequestTime:   e.RequestTime,
			ResponseTime:  e.ResponseTime,
			Method:        e.Method,
			Host:          e.Host,
			ObjectName:    e.Object,
			StatusCode:    e.Status,
			ContentLength: e.ContentLength,
			RangeHeader:   e.Range,
			ContentType:   e.ContentType,
		}
		if ex.Method == "" {
			ex.Method = "GET"
		}
		if ex.Host == "" && ex.Session != nil {
			ex.Host = ex.Session.Host
		}
		if ex.ResponseTime < ex.RequestTime {
			ex.ResponseTime = ex.RequestTime
		}

		switch {
		case e.PayloadText != "":
			ex.Payload = []byte(e.PayloadText)
		case e.Payload != "":
			p := e.Payload
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("read payload for exchange %d (%s): %w", ex.ID, e.Object, err)
			}
			ex.Payload = data
		}
		if ex.ContentLength == 0 && len(ex.Payload) > 0 {
			ex.ContentLength = int64(len(ex.Payload))
		}
		t.Exchanges = append(t.Exchanges, ex)
	}

	// Request order is a precondition of the analyzer; indexes are kept
	// in capture order for ties.
	sort.SliceStable(t.Exchanges, func(i, j int) bool {
		return t.Exchanges[i].RequestTime < t.Exchanges[j].RequestTime
	})

	return t, nil
}

// Duration returns the span between the first request and the last response.
func (t *Trace) Duration() float64 {
	if len(t.Exchanges) == 0 {
		return 0
	}
	first := t.Exchanges[0].RequestTime
	last := first
	for _, e := range t.Exchanges {
		if e.ResponseTime > last {
			last = e.ResponseTime
		}
	}
	return last - first
}
