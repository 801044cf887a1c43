package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRelay answers every request frame with a response carrying the
// same id and a fixed result.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, buf, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(buf, &req); err != nil {
				continue
			}
			resp, _ := json.Marshal(Response{ID: req.ID, Method: req.Method, Result: "ok"})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}))
}

func TestClientRoundTrip(t *testing.T) {
	server := echoRelay(t)
	defer server.Close()

	client := NewClient(strings.Replace(server.URL, "http", "ws", 1))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.True(t, client.IsConnected())

	got := make(chan *Response, 1)
	client.OnResponse(func(resp *Response) { got <- resp })

	require.NoError(t, client.Send(context.Background(), &Request{ID: "req-1", Method: "sign_event"}))

	select {
	case resp := <-got:
		assert.Equal(t, "req-1", resp.ID)
		assert.Equal(t, "ok", resp.Result)
	case <-time.After(5 * time.Second):
		t.Fatal("no response from relay")
	}
}

func TestParamlessRequestReachesRequestHandler(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frame, _ := json.Marshal(Request{ID: "req-1", From: strings.Repeat("a", 64), Method: "get_public_key"})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := NewClient(strings.Replace(server.URL, "http", "ws", 1))
	requests := make(chan *Request, 1)
	responses := make(chan *Response, 1)
	client.OnRequest(func(req *Request) { requests <- req })
	client.OnResponse(func(resp *Response) { responses <- resp })
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case req := <-requests:
		assert.Equal(t, "get_public_key", req.Method)
		assert.Empty(t, req.Params)
	case <-responses:
		t.Fatal("request frame must not reach the response handler")
	case <-time.After(5 * time.Second):
		t.Fatal("request frame never reached the handler")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1")
	err := client.Send(context.Background(), &Request{ID: "req-1"})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	server := echoRelay(t)
	defer server.Close()

	client := NewClient(strings.Replace(server.URL, "http", "ws", 1))
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}
