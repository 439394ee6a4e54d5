package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solser12/kurento/pkg/logger"
)

var log = logger.Default()

func TestWebsocketEcho(t *testing.T) {
	var server *WS
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := NewServer(w, r, log)
		if err != nil {
			t.Errorf("couldn't init socket server: %v", err)
			return
		}
		server = sock
		sock.OnMessage = func(message []byte, err error) { sock.Write(message) }
		sock.Listen()
	}))
	defer srv.Close()

	client, err := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), log)
	if err != nil {
		t.Fatalf("couldn't connect: %v", err)
	}

	n := 100
	var got int32
	var wait sync.WaitGroup
	wait.Add(n)
	client.OnMessage = func(message []byte, err error) {
		if string(message) == "ping" {
			atomic.AddInt32(&got, 1)
		}
		wait.Done()
	}
	client.Listen()

	for i := 0; i < n; i++ {
		if !client.Write([]byte("ping")) {
			t.Fatal("write failed")
		}
	}
	wait.Wait()
	if int(got) != n {
		t.Errorf("echoed %d of %d messages", got, n)
	}

	client.Close()
	select {
	case <-server.Done:
	case <-time.After(2 * time.Second):
		t.Error("the server side never noticed the closure")
	}
	select {
	case <-client.Done:
	case <-time.After(2 * time.Second):
		t.Error("the client side never shut down")
	}
}

func TestWriteAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := NewServer(w, r, log)
		if err != nil {
			return
		}
		sock.OnMessage = func(message []byte, err error) {}
		sock.Listen()
	}))
	defer srv.Close()

	client, err := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), log)
	if err != nil {
		t.Fatalf("couldn't connect: %v", err)
	}
	client.OnMessage = func(message []byte, err error) {}
	client.Listen()
	client.Close()
	<-client.Done

	if client.Write([]byte("late")) {
		t.Error("write into a closed socket must report failure")
	}
}
