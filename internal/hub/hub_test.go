package hub

import (
	"sync"
	"testing"
)

func TestSendAndBroadcast(t *testing.T) {
	h := New(4)
	a := h.Add("a")
	b := h.Add("b")

	if !h.Send("a", []byte("hello")) {
		t.Fatalf("send to a rejected")
	}
	if h.Send("missing", []byte("x")) {
		t.Fatalf("send to unknown id accepted")
	}
	if n := h.Broadcast([]byte("all")); n != 2 {
		t.Fatalf("broadcast reached %d connections", n)
	}

	if got := string(<-a.Outbound()); got != "hello" {
		t.Fatalf("a first = %q", got)
	}
	if got := string(<-a.Outbound()); got != "all" {
		t.Fatalf("a second = %q", got)
	}
	if got := string(<-b.Outbound()); got != "all" {
		t.Fatalf("b first = %q", got)
	}
	if len(b.Outbound()) != 0 {
		t.Fatalf("b received unicast for a")
	}
}

func TestFullQueueDrops(t *testing.T) {
	h := New(1)
	slow := h.Add("slow")
	fast := h.Add("fast")

	if n := h.Broadcast([]byte("1")); n != 2 {
		t.Fatalf("first broadcast reached %d", n)
	}
	<-fast.Outbound()
	if n := h.Broadcast([]byte("2")); n != 1 {
		t.Fatalf("second broadcast should skip the full queue, reached %d", n)
	}
	if got := string(<-slow.Outbound()); got != "1" {
		t.Fatalf("slow kept %q", got)
	}
	if got := string(<-fast.Outbound()); got != "2" {
		t.Fatalf("fast got %q", got)
	}
}

func TestRemoveClosesQueue(t *testing.T) {
	h := New(2)
	c := h.Add("a")
	h.Remove("a")
	h.Remove("a")
	if _, ok := <-c.Outbound(); ok {
		t.Fatalf("expected closed queue")
	}
	if h.Send("a", []byte("x")) {
		t.Fatalf("send after remove accepted")
	}
	if h.Count() != 0 {
		t.Fatalf("count = %d", h.Count())
	}
}

func TestAddReplacesExisting(t *testing.T) {
	h := New(2)
	old := h.Add("a")
	cur := h.Add("a")
	if _, ok := <-old.Outbound(); ok {
		t.Fatalf("replaced connection should be closed")
	}
	if !h.Send("a", []byte("x")) || string(<-cur.Outbound()) != "x" {
		t.Fatalf("new connection not reachable")
	}
	if h.Count() != 1 {
		t.Fatalf("count = %d", h.Count())
	}
}

func TestIDsAndCloseAll(t *testing.T) {
	h := New(0)
	for _, id := range []string{"c", "a", "b"} {
		h.Add(id)
	}
	ids := h.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
	a := h.Add("a")
	h.CloseAll()
	if _, ok := <-a.Outbound(); ok {
		t.Fatalf("queue still open after CloseAll")
	}
	if h.Send("b", []byte("x")) {
		t.Fatalf("send after CloseAll accepted")
	}
	if h.Count() != 3 {
		t.Fatalf("CloseAll must leave removal to owners, count = %d", h.Count())
	}
	for _, id := range ids {
		h.Remove(id)
	}
	if h.Count() != 0 {
		t.Fatalf("count after Remove = %d", h.Count())
	}
}

func TestConcurrentBroadcastAndRemove(t *testing.T) {
	h := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		c := h.Add(id)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range c.Outbound() {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Broadcast([]byte("m"))
			}
			h.Remove(id)
		}()
	}
	wg.Wait()
	if h.Count() != 0 {
		t.Fatalf("count = %d", h.Count())
	}
}
