// Package observability provides OpenTelemetry tracing and metrics for the
// Mindstate SDK, plus a local operation journal and SLO tracking.
//
// # Provider
//
// Initialize a provider at application startup and shut it down on exit:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "mindstate-sdk",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Track an operation end to end; the returned function records duration,
// decrements the active gauge, and marks the span failed on error:
//
//	ctx, finish := obs.TrackOperation(ctx, "mindstate.publish",
//		observability.PublishOperation(collection, checkpointID, len(blob))...)
//	err := doPublish(ctx)
//	finish(err)
//
// A nil *Provider is a valid no-op, so library types can hold an optional
// provider without nil checks at every call site.
//
// # SLO tracking
//
// Attach an SLOTracker to the provider to evaluate latency and success-rate
// targets over a rolling window:
//
//	tracker := observability.NewSLOTracker()
//	tracker.SetTarget(&observability.SLOTarget{
//		Operation:   "mindstate.publish",
//		LatencyP99:  500 * time.Millisecond,
//		SuccessRate: 0.999,
//		WindowHours: 24,
//	})
//	obs.WithSLOTracker(tracker)
//
// # Operation journal
//
// The Journal keeps a queryable local record of publishes, deliveries,
// redemptions, and consumptions for debugging:
//
//	journal := observability.NewJournal()
//	journal.Record(observability.JournalEntry{
//		EntryType:    observability.EntryTypePublish,
//		CheckpointID: result.CheckpointID,
//		Collection:   "game-saves",
//		Summary:      "sealed capsule",
//	})
package observability
