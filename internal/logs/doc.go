// Package logs reads the JSON log file written by the logging package.
//
// Read returns the last N lines (optionally only those tagged with one
// attempt id) together with the byte offset where reading stopped. Follow
// polls from that offset until its context ends, which powers
// `lipstalk logs --follow`.
package logs
