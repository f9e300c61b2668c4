// Package audithook bridges job lifecycle events to an audit trail
// backend. Register it with the hook registry and every enqueue, start,
// completion, failure, retry, and stall becomes a structured audit
// event through the injected Recorder.
package audithook
