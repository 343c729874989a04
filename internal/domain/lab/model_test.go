package lab

import "testing"

func TestCanonicalIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Main Street Imaging", "MAIN_STREET_IMAGING"},
		{"main street imaging", "MAIN_STREET_IMAGING"},
		{"Lab\t\tA", "LAB_A"},
		{"multi   space  name", "MULTI_SPACE_NAME"},
		{"ALREADY_CANONICAL", "ALREADY_CANONICAL"},
		{" padded ", "_PADDED_"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := CanonicalIdentifier(tc.in); got != tc.want {
			t.Errorf("CanonicalIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
