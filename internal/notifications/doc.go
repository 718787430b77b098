// Package notifications delivers attempt events via ntfy.
//
// NewService publishes to the topic configured in config.toml and degrades to
// a no-op when no topic is set. Forward subscribes a Service to the bus so
// saved transcripts, failed attempts and camera hotplugs reach the phone
// without the pipeline knowing notifications exist.
package notifications
