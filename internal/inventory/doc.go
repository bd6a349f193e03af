// Package inventory defines the warehouse inventory record and the helpers
// every other package shares for it: the fixed-position wire row layout, the
// canonical date text format, and accent folding for search.
//
// # Record identity
//
// An Item is keyed by its SKU. The SKU is immutable once assigned and is the
// only identity used for merge and update.
//
// # Canonical dates
//
// Dates are held as text in one representation, DD/MM/YYYY for calendar
// dates and DD/MM/YYYY HH:MM:SS for timestamps. Rows are normalized to this
// form on ingest and every later comparison parses exactly this form
// (ParseTimestamp).
package inventory
