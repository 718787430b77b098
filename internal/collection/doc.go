// Package collection stores the two user-visible collections: transcripts in
// a single JSON file and clips as the files of a directory.
//
// Transcript writes are whole-file read-modify-write cycles serialized by a
// mutex inside the process and an advisory file lock across processes, and
// land through write-then-rename so a failed write never exposes a partial
// file. Every I/O failure is reported with services.ErrStorage.
package collection
