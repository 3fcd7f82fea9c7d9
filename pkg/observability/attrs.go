// Package observability provides SDK-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SDK-specific semantic convention attributes.
var (
	// Checkpoint attributes
	AttrCheckpointID  = attribute.Key("mindstate.checkpoint.id")
	AttrPredecessorID = attribute.Key("mindstate.checkpoint.predecessor")
	AttrBlock         = attribute.Key("mindstate.checkpoint.block")

	// Capsule attributes
	AttrCollection = attribute.Key("mindstate.collection")
	AttrBlobURI    = attribute.Key("mindstate.blob.uri")
	AttrBlobSize   = attribute.Key("mindstate.blob.size")
	AttrTier       = attribute.Key("mindstate.tier")

	// Delivery attributes
	AttrConsumer  = attribute.Key("mindstate.consumer")
	AttrTransport = attribute.Key("mindstate.delivery.transport")

	// Timeline attributes
	AttrHeadID     = attribute.Key("mindstate.timeline.head")
	AttrChainDepth = attribute.Key("mindstate.timeline.depth")
)

// PublishOperation creates attributes for capsule publication.
func PublishOperation(collection, checkpointID string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCollection.String(collection),
		AttrCheckpointID.String(checkpointID),
		AttrBlobSize.Int(size),
	}
}

// ConsumeOperation creates attributes for capsule consumption.
func ConsumeOperation(collection, checkpointID, consumer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCollection.String(collection),
		AttrCheckpointID.String(checkpointID),
		AttrConsumer.String(consumer),
	}
}

// DeliveryOperation creates attributes for key envelope delivery.
func DeliveryOperation(consumer, checkpointID, transport string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConsumer.String(consumer),
		AttrCheckpointID.String(checkpointID),
		AttrTransport.String(transport),
	}
}

// TimelineOperation creates attributes for lineage walks.
func TimelineOperation(headID string, maxDepth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHeadID.String(headID),
		AttrChainDepth.Int(maxDepth),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
