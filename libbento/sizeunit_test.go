package libbento

import "testing"

func TestParseFormatSizeRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"64M", "67108864"},
		{"256M", "268435456"},
		{"1G", "1073741824"},
		{"200M", "209715200"},
		{"max", "max"},
	}
	for _, c := range cases {
		v, isMax, err := ParseSize(c.in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", c.in, err)
		}
		got := FormatSize(v, isMax)
		if got != c.want {
			t.Errorf("ParseSize(%q) then FormatSize = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	if _, _, err := ParseSize("not-a-size"); err == nil {
		t.Fatal("expected an error for an unparseable size")
	}
}
