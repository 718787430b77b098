// Package journal keeps a SQLite history of pipeline attempts.
//
// Every state transition of an attempt is upserted into the attempts table
// and appended to the transitions table, so `lipstalk attempts` can show what
// happened to recordings that never produced a transcript. Attempts still in
// a busy state when the process exits are marked failed by ResetInterrupted.
// The journal is diagnostic only: the transcripts file stays the source of
// truth for saved transcripts.
package journal
