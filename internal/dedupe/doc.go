// Package dedupe tracks webhook deliveries currently being ingested so that
// provider redeliveries of the same message do not run the pipeline twice
// at the same time.
//
// The window is a process-local optimization; the store's unique index on
// (inbox, external ID) remains the authority on duplicates.
package dedupe
