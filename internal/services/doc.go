// Package services defines shared utilities consumed by the capture pipeline
// and its external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp attempt IDs, pipeline states, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the attempt failure reasons surfaced to the UI layer.
//
// Use these helpers when wiring new collaborators so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
