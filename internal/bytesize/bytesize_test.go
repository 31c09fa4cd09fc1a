package bytesize

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"0", 0},
		{"1B", 1},
		{"10Ki", 10 * KiB},
		{"10KiB", 10 * KiB},
		{"10Mi", 10 * MiB},
		{"50Gi", 50 * GiB},
		{"2Ti", 2 * TiB},
		{"100KB", 100 * KB},
		{"100MB", 100 * MB},
		{"3GB", 3 * GB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{"0.5Mi", 512 * KiB},
		{" 10 Mi ", 10 * MiB},
		{"10mi", 10 * MiB},
		{"10MIB", 10 * MiB},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "10xyz", "Mi10", "-5Mi"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("10Mi")); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if b != 10*MiB {
		t.Errorf("expected 10MiB, got %d", b)
	}
	if err := b.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("bogus input should fail")
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{KiB, "1.0KiB"},
		{10 * MiB, "10.0MiB"},
		{ByteSize(1.5 * float64(GiB)), "1.5GiB"},
		{2 * TiB, "2.0TiB"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", uint64(tc.in), got, tc.want)
		}
	}
}
