// Package dicom indexes reference DICOM series and encodes, validates and
// writes the derived segmentation instances.
package dicom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// mustNewElement creates an element and panics on error. Only used with values
// whose type is known to match the tag's VR.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// floatToDS converts a float64 to a DICOM Decimal String.
func floatToDS(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

// stringsOf returns the string values of t, or nil if absent.
func stringsOf(ds *dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	default:
		return nil
	}
}

// stringOf returns the first value of t, trimmed of DICOM padding.
func stringOf(ds *dicom.Dataset, t tag.Tag) string {
	vals := stringsOf(ds, t)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(vals[0]), "\x00")
}

// floatsOf parses a DS (or FD) element into floats.
func floatsOf(ds *dicom.Dataset, t tag.Tag) ([]float64, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, fmt.Errorf("missing %s", tagName(t))
	}
	switch v := elem.Value.GetValue().(type) {
	case []float64:
		return v, nil
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			// Some writers pack multi-valued DS into a single backslash-joined string.
			for _, part := range strings.Split(s, "\\") {
				part = strings.TrimRight(strings.TrimSpace(part), "\x00")
				if part == "" {
					continue
				}
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", tagName(t), err)
				}
				out = append(out, f)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unexpected value type %T", tagName(t), v)
	}
}

// intOf returns the first integer value of t (US or IS).
func intOf(ds *dicom.Dataset, t tag.Tag) (int, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("missing %s", tagName(t))
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], nil
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err != nil {
				return 0, fmt.Errorf("%s: %w", tagName(t), err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("%s: no integer value", tagName(t))
}

func tagName(t tag.Tag) string {
	if info, err := tag.Find(t); err == nil {
		return info.Keyword
	}
	return t.String()
}

// sortElements orders elements by (group, element), as the writer expects.
func sortElements(elems []*dicom.Element) {
	sort.SliceStable(elems, func(i, j int) bool {
		if elems[i].Tag.Group != elems[j].Tag.Group {
			return elems[i].Tag.Group < elems[j].Tag.Group
		}
		return elems[i].Tag.Element < elems[j].Tag.Element
	})
}
