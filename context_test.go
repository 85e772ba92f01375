package fedapi

import (
	"context"
	"testing"
)

type otherKey struct{}

func TestNewContext(t *testing.T) {
	meta := whoamiEndpoint.Metadata()
	ctx := NewContext(context.Background(), &meta, Caller{AccessToken: "tok"}, "req-1")

	if ctx.Endpoint().Name != "whoami" {
		t.Errorf("Endpoint = %+v", ctx.Endpoint())
	}
	if ctx.Caller().AccessToken != "tok" {
		t.Errorf("Caller = %+v", ctx.Caller())
	}
	if ctx.RequestID() != "req-1" {
		t.Errorf("RequestID = %q", ctx.RequestID())
	}
	if ctx.HTTPRequest() != nil {
		t.Error("HTTPRequest should be nil outside a Router")
	}
	ctx.SetHeader("X-Ignored", "1")
}

func TestFromContext(t *testing.T) {
	meta := whoamiEndpoint.Metadata()
	fc := NewContext(context.Background(), &meta, Caller{}, "req-2")

	if got, ok := FromContext(fc); !ok || got != fc {
		t.Error("FromContext should return the Context itself")
	}

	layered := context.WithValue(fc, otherKey{}, "v")
	if got, ok := FromContext(layered); !ok || got != fc {
		t.Error("FromContext should find the Context under other values")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext should fail on a plain context")
	}
}

func TestContext_Cancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	meta := whoamiEndpoint.Metadata()
	fc := NewContext(parent, &meta, Caller{}, "req-3")
	cancel()
	select {
	case <-fc.Done():
	default:
		t.Error("Context should be canceled with its parent")
	}
}
