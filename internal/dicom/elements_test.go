package dicom

import (
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestTagName_UsesKeyword(t *testing.T) {
	tests := []struct {
		tag  tag.Tag
		want string
	}{
		{tag.PatientID, "PatientID"},
		{tag.ImagePositionPatient, "ImagePositionPatient"},
		{tag.Tag{Group: 0x0009, Element: 0x0010}, "(0009,0010)"},
	}
	for _, tc := range tests {
		if got := tagName(tc.tag); got != tc.want {
			t.Errorf("tagName(%v) = %q, want %q", tc.tag, got, tc.want)
		}
	}
}

func TestElementErrors_UseKeyword(t *testing.T) {
	var ds dicom.Dataset
	if _, err := floatsOf(&ds, tag.PixelSpacing); err == nil || !strings.Contains(err.Error(), "missing PixelSpacing") {
		t.Errorf("floatsOf(empty) error = %v", err)
	}
	if _, err := intOf(&ds, tag.Rows); err == nil || !strings.Contains(err.Error(), "missing Rows") {
		t.Errorf("intOf(empty) error = %v", err)
	}
}
