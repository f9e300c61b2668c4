// Package workq provides the background job processing core for the
// hirewire recruiting platform. It offloads memory- and CPU-heavy work
// (media transcoding, document parsing, AI inference) from the request
// path onto per-queue worker pools backed by a durable broker.
//
// workq is designed as a library, not a service. Import it, configure a
// store, and register processors as ordinary Go functions; cmd/workqd
// wraps the same wiring as a runnable daemon.
//
// # Quick Start
//
//	c, err := workq.New(
//	    workq.WithStore(redisStore),
//	    workq.WithLogger(logger),
//	)
//	eng, err := engine.Build(c)
//	engine.Register(eng, job.NewDefinition("video.transcode", transcode,
//	    job.WithQueue("video"),
//	    job.WithMaxAttempts(3),
//	))
//	err = c.Start(ctx)
//	ack, err := engine.Enqueue(ctx, eng, "video.transcode", payload)
//
// # Architecture
//
// Each workload class is a named queue with its own concurrency bound.
// Jobs move through waiting → active → completed, detouring through
// delayed on retryable failures and ending in failed once the attempt
// budget is exhausted. Delivery from the broker is at-least-once;
// processors must tolerate duplicate execution.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package workq
