package collection

import "github.com/randomizedcoder/go-video-trace/internal/manifest"

// Set holds the lineages of one trace in creation order.
type Set struct {
	collections []*ManifestCollection
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{}
}

// MasterFor returns the master manifest whose track list declares uri, so
// that a media playlist can inherit its variant's attributes. The most
// recently created lineage wins.
func (s *Set) MasterFor(uri string) *manifest.Manifest {
	for i := len(s.collections) - 1; i >= 0; i-- {
		if c := s.collections[i]; c.MasterChild(uri) != nil {
			return c.Master
		}
	}
	return nil
}

// Find returns the lineage that already owns uri, or nil.
func (s *Set) Find(uri string) *ManifestCollection {
	for i := len(s.collections) - 1; i >= 0; i-- {
		if c := s.collections[i]; c.Owns(uri) {
			return c
		}
	}
	return nil
}

// Add registers m with the lineage owning its URI, creating a new lineage
// when none does. created reports whether a lineage was created.
func (s *Set) Add(m *manifest.Manifest) (c *ManifestCollection, created bool) {
	if c = s.Find(m.URI); c == nil {
		c = New()
		s.collections = append(s.collections, c)
		created = true
	}
	c.AddManifest(m)
	return c, created
}

// Collections returns the lineages, most recent last.
func (s *Set) Collections() []*ManifestCollection {
	return append([]*ManifestCollection(nil), s.collections...)
}

// Len returns the number of lineages.
func (s *Set) Len() int {
	return len(s.collections)
}
