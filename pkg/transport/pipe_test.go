package transport

import (
	"context"
	"errors"
	"testing"
)

func TestPipeDelivery(t *testing.T) {
	a, b := NewPipe()

	var got []byte
	b.SetHandlers(Handlers{OnMessage: func(data []byte) { got = data }})

	if err := a.Send(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("received %q", got)
	}
}

func TestPipeCloseStopsTraffic(t *testing.T) {
	a, b := NewPipe()
	b.SetHandlers(Handlers{})

	_ = a.Close()
	if err := a.Send(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
	if err := b.Send(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("peer Send() error = %v, want ErrClosed", err)
	}
}

func TestPipeCloseWithErrorReachesPeer(t *testing.T) {
	a, b := NewPipe()

	cause := errors.New("network fell over")
	var observed error
	notified := false
	b.SetHandlers(Handlers{OnClose: func(err error) {
		observed = err
		notified = true
	}})

	a.CloseWithError(cause)
	if !notified {
		t.Fatal("peer OnClose was not called")
	}
	if !errors.Is(observed, cause) {
		t.Errorf("OnClose error = %v, want %v", observed, cause)
	}
}

func TestPipeLocalCloseIsClean(t *testing.T) {
	a, _ := NewPipe()

	var observed error
	called := false
	a.SetHandlers(Handlers{OnClose: func(err error) {
		observed = err
		called = true
	}})

	_ = a.Close()
	if !called {
		t.Fatal("local OnClose was not called")
	}
	if observed != nil {
		t.Errorf("local close error = %v, want nil", observed)
	}
}
