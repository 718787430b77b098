// Package media models the clip artifacts that move through an attempt.
//
// A ClipRef is an ownership handle: whoever holds it is responsible for
// calling Release exactly once, or for handing it to the clip store. The
// ffprobe subpackage inspects clips so capture and normalization can reject
// files with no usable video.
package media
