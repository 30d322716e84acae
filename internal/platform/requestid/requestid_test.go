package requestid

import (
	"context"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	a, b := New(), New()
	if a == "" || a == b {
		t.Fatalf("New()=%q,%q, want distinct non-empty ids", a, b)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), " rid-1 ")
	if got := FromContext(ctx); got != "rid-1" {
		t.Fatalf("FromContext()=%q, want rid-1", got)
	}
	if got := FromContext(context.Background()); got != "" {
		t.Fatalf("FromContext(empty)=%q, want empty", got)
	}
}
