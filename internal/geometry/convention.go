package geometry

import (
	"fmt"
	"strings"
)

// Convention names the anatomical world frame an affine maps voxels into.
type Convention string

const (
	// RAS is the NIfTI / nibabel frame: +x right, +y anterior, +z superior.
	RAS Convention = "RAS"
	// LPS is the DICOM patient frame: +x left, +y posterior, +z superior.
	LPS Convention = "LPS"
)

// DefaultConvention is the frame NIfTI affines are assumed to use.
const DefaultConvention = RAS

// RASToLPS flips the left-right and anterior-posterior axes.
var RASToLPS = Diagonal(-1, -1, 1)

// AllConventions returns the supported conventions.
func AllConventions() []Convention {
	return []Convention{RAS, LPS}
}

// ParseConvention parses a convention name, case-insensitively. An empty
// string yields DefaultConvention.
func ParseConvention(s string) (Convention, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultConvention, nil
	}
	c := Convention(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range AllConventions() {
		if c == valid {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown coordinate convention %q, valid conventions: %v", s, AllConventions())
}

// ToLPS returns the fixed transform from c to DICOM patient coordinates.
func (c Convention) ToLPS() (Affine, error) {
	switch c {
	case RAS, "":
		return RASToLPS, nil
	case LPS:
		return Identity(), nil
	default:
		return Affine{}, fmt.Errorf("unknown coordinate convention %q", string(c))
	}
}
