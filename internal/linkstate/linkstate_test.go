package linkstate

import (
	"reflect"
	"testing"

	"github.com/FranksOps/burr/internal/crawlurl"
)

func TestValidate_LifecycleEdges(t *testing.T) {
	cases := []struct {
		from, to Kind
		ok       bool
	}{
		{Discovered, Reserved, true},
		{Discovered, Skipped, true},
		{Discovered, ForbiddenByRobots, true},
		{Discovered, InProgress, false},
		{Reserved, InProgress, true},
		{InProgress, Crawled, true},
		{InProgress, Failed, true},
		{InProgress, Discovered, true},
		{Crawled, Discovered, true},
		{Crawled, InProgress, false},
		{Failed, Discovered, false},
	}
	for _, c := range cases {
		err := Validate(c.from, c.to)
		if (err == nil) != c.ok {
			t.Errorf("Validate(%s, %s) = %v, want ok=%v", c.from, c.to, err, c.ok)
		}
	}
}

func TestTransitionTo_UpdatesLastSignificantKind(t *testing.T) {
	s := NewDiscovered(crawlurl.Depth{}, true)

	s, err := s.TransitionTo(Reserved)
	if err != nil {
		t.Fatal(err)
	}
	if s.LastSignificantKind != Discovered {
		t.Errorf("in-progress variant must not update LastSignificantKind, got %s", s.LastSignificantKind)
	}

	s, err = s.TransitionTo(InProgress)
	if err != nil {
		t.Fatal(err)
	}

	s, err = s.TransitionTo(Crawled)
	if err != nil {
		t.Fatal(err)
	}
	if s.LastSignificantKind != Crawled {
		t.Errorf("expected LastSignificantKind Crawled, got %s", s.LastSignificantKind)
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	s := NewDiscovered(crawlurl.Depth{FromSeed: 2, DistinctHosts: 1, DistinctOrigins: 1}, true)
	s.Payload = []byte("opaque bytes")

	data, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}

	if !got.Timestamp.Equal(s.Timestamp) {
		t.Errorf("timestamp mismatch: %v vs %v", got.Timestamp, s.Timestamp)
	}
	got.Timestamp = s.Timestamp // time.Time equality via reflect.DeepEqual is fussy about monotonic reading
	if !reflect.DeepEqual(got, s) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, s)
	}

	data2, err := Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data2) != string(data) {
		t.Error("expected byte-identical re-encoding")
	}
}
