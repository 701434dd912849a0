package config

import "testing"

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"8kb", 8 * 1024, false},
		{"4mb", 4 * 1024 * 1024, false},
		{"1gb", 1024 * 1024 * 1024, false},
		{"  16KB  ", 16 * 1024, false},
		{"", 0, true},
		{"nope", 0, true},
		{"4xb", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q) = %d, want error", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
