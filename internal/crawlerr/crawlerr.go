// Package crawlerr defines the crawl core's error taxonomy and
// the error-consumer hook that records each error to structured logs and
// increments a per-kind counter.
package crawlerr

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind classifies an error for propagation policy purposes.
type Kind uint8

const (
	// Transport is a network/timeout error, retry-eligible.
	Transport Kind = iota
	// Storage is a persistent-store failure; escalate.
	Storage
	// Protocol is a robots parse failure; record and skip.
	Protocol
	// Policy is a blacklist/budget/robots deny; a normal outcome.
	Policy
	// Invariant is a guardian poison; abort the worker, not the crawl.
	Invariant
	// Fatal is a double storage failure or corrupted config/queue.
	Fatal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Storage:
		return "storage"
	case Protocol:
		return "protocol"
	case Policy:
		return "policy"
	case Invariant:
		return "invariant"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with its Kind and an optional URL for context.
type Error struct {
	Kind  Kind
	URL   string
	cause error
}

// New creates a crawlerr.Error of the given kind wrapping cause.
func New(kind Kind, url string, cause error) *Error {
	return &Error{Kind: kind, URL: url, cause: cause}
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("context: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("context: %s: %s: %v", e.Kind, e.URL, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

var errorsByKind = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "burr_crawl_errors_total",
		Help: "Total number of crawl errors observed, by kind.",
	},
	[]string{"kind"},
)

// Consumer records every crawl error it is given: a structured log line
// plus an increment of the per-kind counter. It is the implementation of
// the error-consumer hook the original left as an unresolved todo!() -
// records at minimum a log line and a counter increment; no richer policy is invented.
type Consumer struct {
	logger *slog.Logger
}

// NewConsumer builds a Consumer. A nil logger falls back to slog.Default().
func NewConsumer(logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{logger: logger}
}

// ConsumeCrawlError records an error encountered while crawling a single URL.
func (c *Consumer) ConsumeCrawlError(err *Error) {
	c.consume("crawl", err)
}

// ConsumePollError records an error encountered while polling the queue.
func (c *Consumer) ConsumePollError(err *Error) {
	c.consume("poll", err)
}

func (c *Consumer) consume(stage string, err *Error) {
	if err == nil {
		return
	}
	c.logger.Error("crawl error", "stage", stage, "kind", err.Kind.String(), "url", err.URL, "err", err.Unwrap())
	errorsByKind.WithLabelValues(err.Kind.String()).Inc()
}
