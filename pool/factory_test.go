package pool

import (
	"context"
	"testing"
	"time"
)

func TestMakeConnectionPanicsForHTTP2Variant(t *testing.T) {
	f := NewDefaultConnectionFactory(DialerConfig{Host: "example.test", Port: 443, Variant: variantHTTP2})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected MakeConnection to panic for the HTTP/2 variant")
		}
	}()

	f.MakeConnection(context.Background(), 1, LoopID(0), time.Now().Add(time.Second), nil)
}
