package tlsedge

import (
	"errors"
	"testing"
)

func TestHandlerFuncError(t *testing.T) {
	expectedErr := errors.New("test error")
	handler := HandlerFunc(func(_ *Context) error {
		return expectedErr
	})

	if err := handler.Serve(nil); err != expectedErr {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
}

func TestMiddlewareFuncToMiddleware(t *testing.T) {
	middlewareCalled := false
	handlerCalled := false

	middlewareFunc := MiddlewareFunc(func(ctx *Context, next Handler) error {
		middlewareCalled = true
		return next.Serve(ctx)
	})
	handler := HandlerFunc(func(_ *Context) error {
		handlerCalled = true
		return nil
	})

	if err := middlewareFunc.ToMiddleware()(handler).Serve(nil); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
	if !middlewareCalled {
		t.Error("Expected middleware to be called")
	}
	if !handlerCalled {
		t.Error("Expected handler to be called")
	}
}

func TestChain(t *testing.T) {
	var order []int
	step := func(n int) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx *Context) error {
				order = append(order, n)
				return next.Serve(ctx)
			})
		}
	}

	final := HandlerFunc(func(_ *Context) error {
		order = append(order, 0)
		return nil
	})
	if err := Chain(step(1), step(2), step(3))(final).Serve(nil); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	want := []int{1, 2, 3, 0}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, order)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	called := false
	final := HandlerFunc(func(_ *Context) error {
		called = true
		return nil
	})
	_ = Chain()(final).Serve(nil)
	if !called {
		t.Error("Expected handler to be called through an empty chain")
	}
}
