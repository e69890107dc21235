package envelope

import "context"

type metadataKey struct{}

type keyKey struct{}

// ContextWithMetadata stores the envelope metadata and key so outbound
// collaborator calls can carry the correlation id.
func ContextWithMetadata(ctx context.Context, md Metadata, key string) context.Context {
	ctx = context.WithValue(ctx, metadataKey{}, md)
	return context.WithValue(ctx, keyKey{}, key)
}

// MetadataFromContext returns the metadata stored by ContextWithMetadata.
func MetadataFromContext(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(Metadata)
	return md, ok
}

// KeyFromContext returns the partition key stored by ContextWithMetadata.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(keyKey{}).(string)
	return key
}

// CorrelationIDFromContext is a shorthand used by collaborator clients.
func CorrelationIDFromContext(ctx context.Context) string {
	md, _ := MetadataFromContext(ctx)
	return md.CorrelationID
}
