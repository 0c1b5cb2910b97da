package version

import "testing"

func TestCompareOrdersByDebianRules(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0-1", "1.0-2", -1},
		{"2:1.0-1", "1.0-99", 1},
		{"1.0~rc1-1", "1.0-1", -1},
		{"1.0-1", "1.0-1", 0},
	}
	for _, c := range cases {
		got := Parse(c.a).Compare(Parse(c.b))
		if sign(got) != sign(c.want) {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestCompareInvalidVersionsSortLast(t *testing.T) {
	valid := Parse("1.0-1")
	invalid := Parse("not a version!!")
	if valid.Compare(invalid) >= 0 {
		t.Errorf("valid version should sort before invalid, got Compare=%d", valid.Compare(invalid))
	}
	if invalid.Compare(valid) <= 0 {
		t.Errorf("invalid version should sort after valid, got Compare=%d", invalid.Compare(valid))
	}
	other := Parse("also not valid##")
	if invalid.Equal(other) {
		t.Errorf("distinct invalid versions should not be Equal")
	}
}

func TestValid(t *testing.T) {
	if !Parse("1.2-3").Valid() {
		t.Error("1.2-3 should parse as valid")
	}
	if Parse("!!!not a version").Valid() {
		t.Error("garbage string should not parse as valid")
	}
}

func TestWithoutEpoch(t *testing.T) {
	cases := map[string]string{
		"2:1.0-1": "1.0-1",
		"1.0-1":   "1.0-1",
		"0:1.0":   "1.0",
	}
	for in, want := range cases {
		if got := Parse(in).WithoutEpoch(); got != want {
			t.Errorf("WithoutEpoch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpstreamVersion(t *testing.T) {
	cases := map[string]string{
		"2:1.2.3-4": "1.2.3",
		"1.2.3-4":   "1.2.3",
		"1.2.3":     "1.2.3",
		"1.2.3-4-5": "1.2.3-4",
	}
	for in, want := range cases {
		if got := Parse(in).UpstreamVersion(); got != want {
			t.Errorf("UpstreamVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQuoteUnquoteRoundTrip(t *testing.T) {
	raws := []string{"1:2.0-1", "1.0~rc1-1", "1.0-1", "3:1.0~beta2-2"}
	for _, raw := range raws {
		quoted := Parse(raw).Quote()
		if got := Unquote(quoted); got != raw {
			t.Errorf("Unquote(Quote(%q)) = %q, want %q", raw, got, raw)
		}
	}
}

func TestQuoteReplacesIllegalRefChars(t *testing.T) {
	got := Parse("1:2.0~1").Quote()
	want := "1%2.0_1"
	if got != want {
		t.Errorf("Quote() = %q, want %q", got, want)
	}
}

func TestLessHelper(t *testing.T) {
	if !Less(Parse("1.0-1"), Parse("1.0-2")) {
		t.Error("Less(1.0-1, 1.0-2) should be true")
	}
	if Less(Parse("1.0-2"), Parse("1.0-1")) {
		t.Error("Less(1.0-2, 1.0-1) should be false")
	}
}
