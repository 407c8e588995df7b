package crawlerr

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(Transport, "http://a.test/", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestConsumer_Consume(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := NewConsumer(logger)

	c.ConsumeCrawlError(New(Invariant, "http://a.test/", errors.New("poisoned")))

	if buf.Len() == 0 {
		t.Error("expected a log line to be written")
	}
}

func TestKind_String(t *testing.T) {
	if Fatal.String() != "fatal" {
		t.Errorf("got %q", Fatal.String())
	}
}
