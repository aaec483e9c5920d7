package tmdb

import "strings"

// FilterType is the leading token of a free-text filter.
type FilterType string

const (
	FilterDirector FilterType = "director"
	FilterActor    FilterType = "actor"
)

// Known reports whether the filter type has a resolution strategy.
func (t FilterType) Known() bool {
	return t == FilterDirector || t == FilterActor
}

func (t FilterType) discoverParam() string {
	if t == FilterActor {
		return "with_cast"
	}
	return "with_people"
}

// Filter is a parsed "<type> <text>" criterion.
type Filter struct {
	Type FilterType
	Raw  string
	Text string
}

// ParseFilter splits s on whitespace: the first token selects the filter
// type, case-insensitively, and the remaining tokens form the search text.
func ParseFilter(s string) Filter {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Filter{}
	}
	return Filter{
		Type: FilterType(strings.ToLower(fields[0])),
		Raw:  fields[0],
		Text: strings.Join(fields[1:], " "),
	}
}
