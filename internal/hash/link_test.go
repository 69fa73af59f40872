package hash

import (
	"strconv"
	"testing"
	"time"
)

type author struct {
	id   int
	name string
}

func (a author) StateString() string {
	return "auth_id=" + strconv.Itoa(a.id) + " name=" + a.name
}

func TestLinkAtKnownVector(t *testing.T) {
	ts := time.Date(2023, 3, 14, 15, 9, 26, 412000000, time.UTC)
	link := LinkAt(Genesis, ts, author{id: 0, name: "Xtchd Admins"})

	wantString := "auth_id=0 name=Xtchd Admins write_timestamp=2023.03.14 15:09:26 prior_sha256=" + Genesis
	if link.StringToHash != wantString {
		t.Fatalf("StringToHash = %q, want %q", link.StringToHash, wantString)
	}

	wantHash := "1558371924a2df193c1aac169da41bf6920483381c436212f1aa1df853b7585c"
	if got := link.NewHash(); got != wantHash {
		t.Errorf("NewHash() = %s, want %s", got, wantHash)
	}
}

func TestLinkChaining(t *testing.T) {
	first := LinkAt(Genesis, time.Date(2023, 3, 14, 15, 9, 26, 0, time.UTC), author{id: 0, name: "Xtchd Admins"})
	second := LinkAt(first.NewHash(), time.Date(2023, 3, 14, 15, 10, 2, 0, time.UTC), author{id: 1, name: "Some guy"})

	want := "7b32f1219b87ce2b2c2eb4a8cf5ed45df48ebad5a25bc2f28f005291bbf3c4e3"
	if got := second.NewHash(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestLinkDeterminism(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := author{id: 3, name: "determinism"}

	h1 := LinkAt(Genesis, ts, c).NewHash()
	h2 := LinkAt(Genesis, ts, c).NewHash()
	if h1 != h2 {
		t.Error("Same inputs should produce same hash")
	}

	if h3 := LinkAt(Genesis, ts.Add(time.Second), c).NewHash(); h3 == h1 {
		t.Error("Different timestamp should produce different hash")
	}
	if h4 := LinkAt(CalculateString("other"), ts, c).NewHash(); h4 == h1 {
		t.Error("Different prior hash should produce different hash")
	}
	if h5 := LinkAt(Genesis, ts, author{id: 3, name: "determinisn"}).NewHash(); h5 == h1 {
		t.Error("Different content should produce different hash")
	}
}

func TestLinkSubSecondIgnored(t *testing.T) {
	c := author{id: 1, name: "x"}
	a := LinkAt(Genesis, time.Date(2024, 6, 1, 12, 0, 0, 1000, time.UTC), c)
	b := LinkAt(Genesis, time.Date(2024, 6, 1, 12, 0, 0, 999999000, time.UTC), c)

	if a.NewHash() != b.NewHash() {
		t.Error("Timestamps within the same second should hash identically")
	}
	if a.WriteTimestamp.Equal(b.WriteTimestamp) {
		t.Error("WriteTimestamp should keep its full resolution")
	}
}

func TestNewLinkUsesCurrentTime(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	link := NewLink(Genesis, author{id: 0, name: "now"})
	after := time.Now().UTC().Add(time.Second)

	if link.WriteTimestamp.Before(before) || link.WriteTimestamp.After(after) {
		t.Errorf("WriteTimestamp %v not within [%v, %v]", link.WriteTimestamp, before, after)
	}
	if link.WriteTimestamp.Location() != time.UTC {
		t.Error("WriteTimestamp should be UTC")
	}
	if link.WriteTimestamp.Nanosecond()%1000 != 0 {
		t.Error("WriteTimestamp should be truncated to microseconds")
	}
}
