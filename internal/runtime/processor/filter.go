package processor

import "github.com/drblury/soknadflow/internal/runtime/envelope"

// Skip reasons reported to the metrics sink.
const (
	ReasonUnsupportedVersion = "unsupported_version"
	ReasonSkipList           = "skip_list"
)

// Filter decides which entries a stage drops before doing any work.
type Filter struct {
	versions map[int]struct{}
	skip     map[string]struct{}
}

// NewFilter accepts the listed envelope versions and drops entries whose key
// or correlation id appears in skip. An empty version list accepts version 1.
func NewFilter(versions []int, skip []string) Filter {
	if len(versions) == 0 {
		versions = []int{envelope.CurrentVersion}
	}
	f := Filter{versions: make(map[int]struct{}, len(versions)), skip: make(map[string]struct{}, len(skip))}
	for _, v := range versions {
		f.versions[v] = struct{}{}
	}
	for _, s := range skip {
		if s != "" {
			f.skip[s] = struct{}{}
		}
	}
	return f
}

// Check returns the reason to drop an entry, or "" to process it.
func (f Filter) Check(md envelope.Metadata, key string) string {
	if _, ok := f.versions[md.Version]; !ok {
		return ReasonUnsupportedVersion
	}
	if _, ok := f.skip[key]; ok {
		return ReasonSkipList
	}
	if _, ok := f.skip[md.CorrelationID]; ok && md.CorrelationID != "" {
		return ReasonSkipList
	}
	return ""
}
