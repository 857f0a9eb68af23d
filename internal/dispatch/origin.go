package dispatch

import "context"

// Origin identifies the session an event came from.
type Origin struct {
	RoomID    int64
	SessionID string
}

type originKey struct{}

// WithOrigin attaches o to ctx so sinks can tag what they store.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the Origin attached by WithOrigin.
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}
