package nats

import (
	"time"

	"github.com/brojonat/owfn/service/presale"
)

// ContributionEvent is a new presale contribution published to the
// "presale.contributions" subject in JetStream.
type ContributionEvent struct {
	Signature string `json:"signature"`
	Source    string `json:"source"`

	Lamports uint64             `json:"lamports"`
	SOL      float64            `json:"sol"`
	OWFN     presale.OWFNAmount `json:"owfn"`

	// Timestamp is the block time of the contribution.
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromEntry converts an aggregator entry to a ContributionEvent.
func FromEntry(e presale.Entry) *ContributionEvent {
	return &ContributionEvent{
		Signature:   e.Signature,
		Source:      e.SourceAddress,
		Lamports:    e.Lamports,
		SOL:         e.SOL,
		OWFN:        e.OWFN,
		Timestamp:   e.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
}
