package blocker

import "context"

type remoteKey struct{}

// WithRemote tags ctx with the address of the client making the request.
func WithRemote(ctx context.Context, remote string) context.Context {
	return context.WithValue(ctx, remoteKey{}, remote)
}

// RemoteFrom returns the client address stored by WithRemote, or "".
func RemoteFrom(ctx context.Context) string {
	s, _ := ctx.Value(remoteKey{}).(string)
	return s
}
