package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestHubBroadcastsToViewers(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(KindQueueState, map[string]string{"state": "running"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev struct {
		Type Kind              `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != KindQueueState || ev.Data["state"] != "running" {
		t.Fatalf("unexpected event %s", payload)
	}
}

func TestPublishDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferedSize*2; i++ {
			hub.Publish(KindRecordUpdated, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}
