// Package ffprobe inspects clip files through ffprobe's JSON output.
//
// Capture and normalization use Inspect to confirm a file actually holds a
// decodable video stream before it is handed further down the pipeline.
package ffprobe
