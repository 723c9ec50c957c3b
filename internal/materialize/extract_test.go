package materialize

import (
	"errors"
	"testing"
)

func TestEntryPath(t *testing.T) {
	cases := []struct {
		name    string
		want    string
		invalid bool
	}{
		{name: "full.md", want: "full.md"},
		{name: "images/", want: "images"},
		{name: "images/p1.jpg", want: "images/p1.jpg"},
		{name: "./", want: ""},
		{name: "a/../b.md", want: "b.md"},
		{name: "../evil", invalid: true},
		{name: "/etc/passwd", invalid: true},
		{name: "..\\evil", invalid: true},
	}
	for _, tc := range cases {
		got, err := entryPath(tc.name)
		if tc.invalid {
			if !errors.Is(err, errUnsafeEntry) {
				t.Fatalf("entryPath(%q) err = %v, want unsafe", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("entryPath(%q) unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("entryPath(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
