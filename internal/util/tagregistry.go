// Package util provides tag lookup, UID generation and flag parsing helpers
// shared by the converter and its CLI.
package util

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagScope represents the DICOM information entity a tag belongs to.
type TagScope int

const (
	// ScopePatient tags identify the patient and are copied from the reference.
	ScopePatient TagScope = iota
	// ScopeStudy tags are shared by every series of the study.
	ScopeStudy
	// ScopeFrameOfReference tags tie the output to the reference patient space.
	ScopeFrameOfReference
	// ScopeEquipment tags describe the acquisition device.
	ScopeEquipment
	// ScopeSeries tags are specific to the derived segmentation series.
	ScopeSeries
	// ScopeImage tags can vary per instance.
	ScopeImage
)

// String returns the string representation of a TagScope.
func (s TagScope) String() string {
	switch s {
	case ScopePatient:
		return "Patient"
	case ScopeStudy:
		return "Study"
	case ScopeFrameOfReference:
		return "FrameOfReference"
	case ScopeEquipment:
		return "Equipment"
	case ScopeSeries:
		return "Series"
	case ScopeImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// TagInfo contains information about a DICOM tag, including its scope.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Scope TagScope
}

// tagRegistry maps lowercase tag names to the tags a user may override on the
// output series.
var tagRegistry = map[string]TagInfo{
	// Patient level tags
	"patientname":      {Name: "PatientName", Tag: tag.PatientName, Scope: ScopePatient},
	"patientid":        {Name: "PatientID", Tag: tag.PatientID, Scope: ScopePatient},
	"patientbirthdate": {Name: "PatientBirthDate", Tag: tag.PatientBirthDate, Scope: ScopePatient},
	"patientsex":       {Name: "PatientSex", Tag: tag.PatientSex, Scope: ScopePatient},

	// Study level tags
	"studydescription":       {Name: "StudyDescription", Tag: tag.StudyDescription, Scope: ScopeStudy},
	"studyid":                {Name: "StudyID", Tag: tag.StudyID, Scope: ScopeStudy},
	"accessionnumber":        {Name: "AccessionNumber", Tag: tag.AccessionNumber, Scope: ScopeStudy},
	"referringphysicianname": {Name: "ReferringPhysicianName", Tag: tag.ReferringPhysicianName, Scope: ScopeStudy},

	// Equipment level tags
	"institutionname":             {Name: "InstitutionName", Tag: tag.InstitutionName, Scope: ScopeEquipment},
	"institutionaldepartmentname": {Name: "InstitutionalDepartmentName", Tag: tag.InstitutionalDepartmentName, Scope: ScopeEquipment},
	"stationname":                 {Name: "StationName", Tag: tag.StationName, Scope: ScopeEquipment},
	"manufacturer":                {Name: "Manufacturer", Tag: tag.Manufacturer, Scope: ScopeEquipment},
	"manufacturermodelname":       {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Scope: ScopeEquipment},

	// Series level tags
	"seriesdescription":     {Name: "SeriesDescription", Tag: tag.SeriesDescription, Scope: ScopeSeries},
	"seriesnumber":          {Name: "SeriesNumber", Tag: tag.SeriesNumber, Scope: ScopeSeries},
	"protocolname":          {Name: "ProtocolName", Tag: tag.ProtocolName, Scope: ScopeSeries},
	"bodypartexamined":      {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Scope: ScopeSeries},
	"operatorsname":         {Name: "OperatorsName", Tag: tag.OperatorsName, Scope: ScopeSeries},
	"derivationdescription": {Name: "DerivationDescription", Tag: tag.DerivationDescription, Scope: ScopeSeries},

	// Image level tags
	"windowcenter": {Name: "WindowCenter", Tag: tag.WindowCenter, Scope: ScopeImage},
	"windowwidth":  {Name: "WindowWidth", Tag: tag.WindowWidth, Scope: ScopeImage},
}

// GetTagByName returns TagInfo for a given tag name.
// The lookup is case-insensitive. If the tag is not found, an error is returned
// with a suggestion for the closest matching tag name (using Levenshtein distance).
func GetTagByName(name string) (TagInfo, error) {
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// OverridableTags lists the registry sorted by name, for help output.
func OverridableTags() []TagInfo {
	out := make([]TagInfo, 0, len(tagRegistry))
	for _, info := range tagRegistry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// findClosestTagName finds the closest matching tag name using Levenshtein distance.
// Returns empty string if no close match is found (distance > 5).
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	// Walk in name order so ties resolve the same way on every run.
	for _, info := range OverridableTags() {
		distance := levenshteinDistance(input, strings.ToLower(info.Name))
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance returns the minimum number of single-character edits
// turning a into b.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
