package migration

import "testing"

// TestNextVersion tests the semantic bump rules.
func TestNextVersion(t *testing.T) {
	tests := []struct {
		current string
		bump    BumpType
		want    string
	}{
		{"1.0.0", BumpPatch, "1.0.1"},
		{"1.0.9", BumpPatch, "1.0.10"},
		{"1.0.5", BumpMinor, "1.1.0"},
		{"1.9.3", BumpMinor, "1.10.0"},
		{"1.4.7", BumpMajor, "2.0.0"},
	}

	for _, tt := range tests {
		got, err := NextVersion(tt.current, tt.bump)
		if err != nil {
			t.Errorf("NextVersion(%s, %s) failed: %v", tt.current, tt.bump, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NextVersion(%s, %s) = %s, want %s", tt.current, tt.bump, got, tt.want)
		}
	}
}

// TestNextVersion_Invalid tests rejection of malformed inputs.
func TestNextVersion_Invalid(t *testing.T) {
	if _, err := NextVersion("1.0", BumpPatch); err == nil {
		t.Error("Expected error for two-component version")
	}
	if _, err := NextVersion("abc", BumpPatch); err == nil {
		t.Error("Expected error for non-numeric version")
	}
	if _, err := NextVersion("1.0.0", BumpType("huge")); err == nil {
		t.Error("Expected error for unknown bump type")
	}
}

// TestCompareVersions tests numeric (not lexicographic) ordering.
func TestCompareVersions(t *testing.T) {
	got, err := CompareVersions("1.10.0", "1.9.0")
	if err != nil {
		t.Fatalf("CompareVersions failed: %v", err)
	}
	if got != 1 {
		t.Errorf("Expected 1.10.0 > 1.9.0, got %d", got)
	}

	got, _ = CompareVersions("2.0.0", "2.0.0")
	if got != 0 {
		t.Errorf("Expected equality, got %d", got)
	}
}

// TestIsValidVersion tests strict MAJOR.MINOR.PATCH acceptance.
func TestIsValidVersion(t *testing.T) {
	for _, valid := range []string{"0.0.1", "1.0.0", "10.20.30"} {
		if !IsValidVersion(valid) {
			t.Errorf("Expected %q to be valid", valid)
		}
	}
	for _, invalid := range []string{"1", "1.0", "v1.0.0", ""} {
		if IsValidVersion(invalid) {
			t.Errorf("Expected %q to be invalid", invalid)
		}
	}
}
