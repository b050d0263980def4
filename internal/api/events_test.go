package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarvis-automation/jarvis/pkg/protocol"
)

func TestEventBusRecentWraps(t *testing.T) {
	b := NewEventBus(3)
	for i := 0; i < 5; i++ {
		b.Publish([]byte(fmt.Sprint(i)))
	}
	got := b.Recent()
	if len(got) != 3 {
		t.Fatalf("Recent() len = %d, want 3", len(got))
	}
	for i, want := range []string{"2", "3", "4"} {
		if string(got[i]) != want {
			t.Errorf("Recent()[%d] = %s, want %s", i, got[i], want)
		}
	}
}

func TestEventBusSubscribe(t *testing.T) {
	b := NewEventBus(0)
	ch, unsub := b.Subscribe()
	b.Publish([]byte("one"))
	select {
	case data := <-ch:
		if string(data) != "one" {
			t.Fatalf("got %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsub()
	b.Publish([]byte("two"))
	select {
	case data := <-ch:
		t.Fatalf("unsubscribed channel got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecentEvents(t *testing.T) {
	_, api, srv := newTestAPI(t)
	ev, _ := json.Marshal(protocol.NewEvent(protocol.EventNodeRegistered, "jarvisd", map[string]any{"node": "desk"}))
	api.Events().Publish(ev)
	api.Events().Publish([]byte("not json"))

	resp, err := http.Get(srv.URL + "/api/v1/events/recent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Events []protocol.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Events) != 1 || body.Events[0].Type != protocol.EventNodeRegistered {
		t.Fatalf("events = %+v", body.Events)
	}
}

func TestEventStream(t *testing.T) {
	_, api, srv := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The handler subscribes before flushing headers, so this is not lost.
	ev, _ := json.Marshal(protocol.NewEvent(protocol.EventCommandFailed, "jarvisd", map[string]any{"kind": "command_timeout"}))
	api.Events().Publish(ev)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var got protocol.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if got.Type != protocol.EventCommandFailed {
			t.Fatalf("type = %s", got.Type)
		}
		return
	}
	t.Fatalf("stream ended: %v", sc.Err())
}
