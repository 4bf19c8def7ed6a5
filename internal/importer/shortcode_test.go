package importer

import "testing"

func TestExtractShortcode(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.instagram.com/p/ABC123/", "ABC123"},
		{"https://instagram.com/reel/XyZ-9_8", "XyZ-9_8"},
		{"https://www.instagram.com/tv/Short1/?utm_source=share", "Short1"},
		{"https://www.instagram.com/p/ABC123/?img_index=2", "ABC123"},
	}
	for _, tc := range cases {
		got, err := ExtractShortcode(tc.url)
		if err != nil {
			t.Fatalf("ExtractShortcode(%q): %v", tc.url, err)
		}
		if got != tc.want {
			t.Fatalf("ExtractShortcode(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestExtractShortcodeInvalid(t *testing.T) {
	for _, url := range []string{
		"https://www.instagram.com/someuser/",
		"https://example.com/",
		"not a url",
	} {
		if _, err := ExtractShortcode(url); err == nil {
			t.Fatalf("expected error for %q", url)
		}
	}
}
