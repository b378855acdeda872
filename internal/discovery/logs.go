package discovery

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"pumpsniper/internal/domain"
)

// Candidate line selection.
const (
	// ProgramDataMarker prefixes base64 event payloads in program logs.
	ProgramDataMarker = "Program data:"

	// MinPayloadLineLen is the shortest log line considered to carry a create payload.
	// Shorter "Program data:" lines are trade and other events.
	MinPayloadLineLen = 200
)

// FindEventPayload returns the decoded payload of the first log line longer
// than MinPayloadLineLen containing ProgramDataMarker. found is false when no
// line qualifies; err is set when the qualifying line is not valid base64.
func FindEventPayload(logs []string) (payload []byte, found bool, err error) {
	for _, line := range logs {
		if len(line) <= MinPayloadLineLen {
			continue
		}
		idx := strings.Index(line, ProgramDataMarker)
		if idx < 0 {
			continue
		}

		encoded := strings.TrimSpace(line[idx+len(ProgramDataMarker):])
		payload, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, true, fmt.Errorf("%w: base64: %v", ErrMalformedPayload, err)
		}
		return payload, true, nil
	}
	return nil, false, nil
}

// ParseLogs extracts a creation event from one transaction's logs.
// Returns nil, nil when the logs carry no candidate payload.
func ParseLogs(signature string, slot int64, logs []string, now time.Time) (*domain.CreationEvent, error) {
	payload, found, err := FindEventPayload(logs)
	if err != nil || !found {
		return nil, err
	}

	fields, err := DecodeCreateEvent(payload)
	if err != nil {
		return nil, err
	}

	return &domain.CreationEvent{
		Name:       fields.Name,
		Symbol:     fields.Symbol,
		URI:        fields.URI,
		Mint:       fields.Mint,
		Signature:  signature,
		Slot:       slot,
		DetectedAt: now.UnixMilli(),
	}, nil
}
