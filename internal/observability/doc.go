// Package observability provides the JSONL event log that records task
// lifecycle changes and ticket sync outcomes, plus the metrics and alerts
// derived from it on demand.
package observability
