package util

import (
	"fmt"
	"sort"
	"strings"
)

// TagValue is a user-supplied override for one tag.
type TagValue struct {
	Info  TagInfo
	Value string
}

// ParsedTags holds tag overrides keyed by canonical tag name.
type ParsedTags map[string]TagValue

// Get returns the override for name, looked up case-insensitively.
func (p ParsedTags) Get(name string) (string, bool) {
	info, err := GetTagByName(name)
	if err != nil {
		return "", false
	}
	v, ok := p[info.Name]
	return v.Value, ok
}

// Values returns the overrides sorted by tag.
func (p ParsedTags) Values() []TagValue {
	out := make([]TagValue, 0, len(p))
	for _, v := range p {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Info.Tag, out[j].Info.Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return out
}

// Strings renders the overrides back to Name=Value form, sorted by name.
func (p ParsedTags) Strings() []string {
	out := make([]string, 0, len(p))
	for name, v := range p {
		out = append(out, name+"="+v.Value)
	}
	sort.Strings(out)
	return out
}

// ParseTagFlags parses repeated "Name=Value" flags. Later flags win.
func ParseTagFlags(flags []string) (ParsedTags, error) {
	tags := make(ParsedTags)
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tag %q, expected Name=Value", f)
		}
		info, err := GetTagByName(name)
		if err != nil {
			return nil, err
		}
		tags[info.Name] = TagValue{Info: info, Value: strings.TrimSpace(value)}
	}
	return tags, nil
}
