package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the request correlation header echoed on every response.
const Header = "X-Request-Id"

type ctxKey struct{}

// New returns a random request identifier.
func New() string {
	return uuid.NewString()
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
