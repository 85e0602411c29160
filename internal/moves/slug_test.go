package moves

import "testing"

func TestGenerateSlug(t *testing.T) {
	cases := map[string]string{
		"Fireman Spin":         "fireman-spin",
		"  Ayşe's   Climb  ":   "ayses-climb",
		"Élan Pirouette":       "elan-pirouette",
		"Spin 100%":            "spin-100",
		"Jade--Split":          "jade-split",
		"Straddle_Invert (V2)": "straddle-invert-v2",
		"!!!":                  "",
	}
	for in, want := range cases {
		if got := generateSlug(in); got != want {
			t.Errorf("generateSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
