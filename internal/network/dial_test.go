package network

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// freePort reserves a loopback port and releases it again.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// echoEngine serves the API path and echoes every frame back.
func echoEngine() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})
	return mux
}

func TestConnectSucceedsOnceServerStarts(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	srv := &http.Server{Handler: echoEngine()}
	defer srv.Close()
	go func() {
		time.Sleep(200 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		srv.Serve(ln)
	}()

	ep := Endpoint{Host: "127.0.0.1", Port: port, RetryLimit: 40, RetryInterval: 50 * time.Millisecond}
	conn, err := Connect(context.Background(), ep)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	data, err := conn.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("Receive = %q, want ping", data)
	}
}

func TestConnectExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	refuse := func(ctx context.Context, rawURL string) (*websocket.Conn, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	}

	const limit = 3
	const interval = 30 * time.Millisecond
	ep := Endpoint{Host: "127.0.0.1", Port: 1, RetryLimit: limit, RetryInterval: interval}

	start := time.Now()
	_, err := connect(context.Background(), ep, refuse)
	elapsed := time.Since(start)

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
	if connErr.Attempts != limit {
		t.Errorf("Attempts = %d, want %d", connErr.Attempts, limit)
	}
	if got := calls.Load(); got != limit {
		t.Errorf("dial calls = %d, want %d", got, limit)
	}
	if elapsed < limit*interval {
		t.Errorf("elapsed = %s, want at least %s", elapsed, limit*interval)
	}
}

func TestConnectRealRefusal(t *testing.T) {
	ep := Endpoint{Host: "127.0.0.1", Port: freePort(t), RetryLimit: 2, RetryInterval: 10 * time.Millisecond}
	_, err := Connect(context.Background(), ep)

	var connErr *ConnectError
	if !errors.As(err, &connErr) || connErr.Attempts != 2 {
		t.Fatalf("err = %v, want *ConnectError after 2 attempts", err)
	}
}

func TestConnectHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	refuse := func(ctx context.Context, rawURL string) (*websocket.Conn, error) {
		cancel()
		return nil, errors.New("connection refused")
	}

	ep := Endpoint{Host: "127.0.0.1", Port: 1, RetryLimit: 100, RetryInterval: time.Hour}
	_, err := connect(ctx, ep, refuse)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReceiveTimeout(t *testing.T) {
	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)

	// Engine that accepts frames but never answers.
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	conn, err := Connect(context.Background(), Endpoint{Host: "127.0.0.1", Port: port, RetryLimit: 5, RetryInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	conn.Send([]byte("request"))
	_, err = conn.Receive(50 * time.Millisecond)
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("err = %v, want ErrNoResponse", err)
	}
}

func TestEndpointURL(t *testing.T) {
	ep := Endpoint{Host: "127.0.0.1", Port: 5679}
	if got := ep.URL(); got != "ws://127.0.0.1:5679/sc2api" {
		t.Errorf("URL = %q", got)
	}
}
