// Package main hosts the lipstalk CLI.
//
// Commands run the capture-transcribe-persist pipeline in-process, browse and
// prune the transcript and clip collections, and start the local HTTP API.
// Configuration, logging, and store wiring live in the command context so
// subcommands only describe their flags and output.
package main
