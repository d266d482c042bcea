package company

import "time"

// Sentinel values written to product_name for terminal failures.
const (
	SentinelUnreachable      = "[unreachable website]"
	SentinelUnreadable       = "[unreadable content]"
	SentinelExtractionFailed = "[gpt fail]"
)

// Record is a company row eligible for enrichment.
type Record struct {
	ID      int64
	Name    string
	Website string
}

// Product holds the four persisted product fields.
type Product struct {
	Name           string `json:"product_name"`
	Function       string `json:"product_function"`
	Location       string `json:"product_location"`
	Qualifications string `json:"product_qual"`
}

// SentinelProduct marks a record as terminally failed with the given sentinel.
func SentinelProduct(sentinel string) Product {
	return Product{Name: sentinel}
}

// Outcome classifies how a single record's pipeline run ended.
type Outcome string

// Outcome values. Skipped and Unclassified leave the record eligible for a later run.
const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeUnreachable      Outcome = "unreachable"
	OutcomeUnreadable       Outcome = "unreadable"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeEnriched         Outcome = "enriched"
	OutcomeUnclassified     Outcome = "unclassified"
)

// Outcomes lists every outcome in a stable order.
var Outcomes = []Outcome{
	OutcomeSkipped,
	OutcomeUnreachable,
	OutcomeUnreadable,
	OutcomeExtractionFailed,
	OutcomeEnriched,
	OutcomeUnclassified,
}

// Terminal reports whether the outcome removed the record from the queue.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeUnreachable, OutcomeUnreadable, OutcomeExtractionFailed, OutcomeEnriched:
		return true
	default:
		return false
	}
}

// EnrichmentEvent is published after a terminal write.
type EnrichmentEvent struct {
	CompanyID   int64     `json:"company_id"`
	Outcome     Outcome   `json:"outcome"`
	ProductName string    `json:"product_name"`
	RunID       string    `json:"run_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
