package utils

import (
	"reflect"
	"testing"
)

func TestNormalizeClaimPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "/container1", "/container1", false},
		{"nested", "/users/alice/photos", "/users/alice/photos", false},
		{"trailing slash stripped", "/container1/", "/container1", false},
		{"redundant components cleaned", "/a//b/./c", "/a/b/c", false},
		{"relative rejected", "container1", "", true},
		{"empty rejected", "", "", true},
		{"root rejected", "/", "", true},
		{"traversal rejected", "/a/../../b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeClaimPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeClaimPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeClaimPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"/", nil},
		{"/a", []string{"a"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"/a//b", []string{"a", "b"}},
	}

	for _, tt := range tests {
		got := SplitPath(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitPath(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRelHelpers(t *testing.T) {
	if got := RelJoin("", "file1"); got != "file1" {
		t.Errorf("RelJoin root = %q", got)
	}
	if got := RelJoin("dir1", "file1"); got != "dir1/file1" {
		t.Errorf("RelJoin nested = %q", got)
	}
	if got := RelParent("dir1/dir2/file1"); got != "dir1/dir2" {
		t.Errorf("RelParent = %q", got)
	}
	if got := RelParent("file1"); got != "" {
		t.Errorf("RelParent top-level = %q", got)
	}
	if got := RelBase("dir1/file1"); got != "file1" {
		t.Errorf("RelBase = %q", got)
	}
	if err := ValidateRelPath("a/../b"); err == nil {
		t.Error("ValidateRelPath accepted traversal")
	}
	if err := ValidateRelPath("a/b"); err != nil {
		t.Errorf("ValidateRelPath rejected clean path: %v", err)
	}
}
