package transport_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/helenkilolo/afrovibe/pkg/transport"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// testConn upgrades one real websocket through an httptest server and wraps
// the server side in a transport connection. run controls whether the pumps
// are started before the connection is handed back, mirroring the window
// between accepting a socket and registering it.
func testConn(t *testing.T, run bool) (*transport.Connection, *sync.WaitGroup) {
	t.Helper()

	wg := &sync.WaitGroup{}
	accepted := make(chan *transport.Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := transport.NewConnection(r.Context(), wg, ws, transport.ConnectionConfig{ReadTimeout: time.Second},
			func(context.Context, uuid.UUID, []byte) {}, nil, newTestLogger())
		if run {
			conn.Run()
		}
		accepted <- conn
		<-conn.Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case conn := <-accepted:
		return conn, wg
	case <-ctx.Done():
		t.Fatal("Server never accepted the connection")
		return nil, nil
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	conn, _ := testConn(t, true)

	// Fan out sends from several goroutines racing Close, the way peers
	// relaying to a tearing-down connection do.
	var senders sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			<-start
			for j := 0; j < 100; j++ {
				conn.Send([]byte(`{"event":"notify","payload":{}}`))
			}
		}()
	}
	close(start)
	conn.Close(errors.New("user disconnected"))
	senders.Wait()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection never finished closing")
	}
}

func TestCloseBeforeRunBalancesWaitGroup(t *testing.T) {
	conn, wg := testConn(t, false)

	// Registration failure closes a connection whose pumps never started.
	conn.Close(errors.New("registration rejected"))
	<-conn.Done()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitGroup never drained after an unstarted connection closed")
	}
}
