// Package company defines the records, outcomes, and collaborator interfaces shared by the
// enrichment pipeline.
package company
