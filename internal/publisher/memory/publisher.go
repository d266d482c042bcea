// Package memory records enrichment events in-process for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/company-enricher/internal/company"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []company.EnrichmentEvent
	// Err, when set, is returned by every Publish call.
	Err error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequential pseudo id.
func (p *Publisher) Publish(_ context.Context, event company.EnrichmentEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", errors.Join(errors.New("memory publish failed"), p.Err)
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []company.EnrichmentEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]company.EnrichmentEvent, len(p.events))
	copy(out, p.events)
	return out
}
