package linkstate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/burr/internal/crawlurl"
)

// record is the JSON wire shape of a State, following the same
// encoding/json convention used throughout internal/storage/*backend.
type record struct {
	Kind                Kind   `json:"kind"`
	LastSignificantKind Kind   `json:"last_significant_kind"`
	Recrawl             bool   `json:"recrawl"`
	IsSeed              bool   `json:"is_seed"`
	Timestamp           string `json:"timestamp"`
	DepthFromSeed       int    `json:"depth_from_seed"`
	DepthHosts          int    `json:"depth_hosts"`
	DepthOrigins        int    `json:"depth_origins"`
	Payload             string `json:"payload,omitempty"`
}

// Marshal encodes s as JSON, byte-identical on round trip.
func Marshal(s State) ([]byte, error) {
	r := record{
		Kind:                s.Kind,
		LastSignificantKind: s.LastSignificantKind,
		Recrawl:             s.Recrawl,
		IsSeed:              s.IsSeed,
		Timestamp:           s.Timestamp.Format(time.RFC3339Nano),
		DepthFromSeed:       s.Depth.FromSeed,
		DepthHosts:          s.Depth.DistinctHosts,
		DepthOrigins:        s.Depth.DistinctOrigins,
	}
	if s.Payload != nil {
		r.Payload = base64.StdEncoding.EncodeToString(s.Payload)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a State previously produced by Marshal.
func Unmarshal(data []byte) (State, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return State{}, fmt.Errorf("context: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return State{}, fmt.Errorf("context: %w", err)
	}
	s := State{
		Kind:                r.Kind,
		LastSignificantKind: r.LastSignificantKind,
		Recrawl:             r.Recrawl,
		IsSeed:              r.IsSeed,
		Timestamp:           ts,
		Depth: crawlurlDepth(r),
	}
	if r.Payload != "" {
		payload, err := base64.StdEncoding.DecodeString(r.Payload)
		if err != nil {
			return State{}, fmt.Errorf("context: %w", err)
		}
		s.Payload = payload
	}
	return s, nil
}

func crawlurlDepth(r record) crawlurl.Depth {
	return crawlurl.Depth{
		FromSeed:        r.DepthFromSeed,
		DistinctHosts:   r.DepthHosts,
		DistinctOrigins: r.DepthOrigins,
	}
}
