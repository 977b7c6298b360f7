package transport

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestProbeDetectsReachability(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProbe(NewClient(srv.URL, "", "device-a", time.Second), 20*time.Millisecond)

	flips := make(chan bool, 8)
	unhook := p.OnChange(func(online bool) { flips <- online })
	defer unhook()

	p.Start()
	defer p.Stop()

	// Start performs a synchronous first check.
	if !p.Online() {
		t.Fatal("want online after first check")
	}
	select {
	case online := <-flips:
		if !online {
			t.Error("first flip should be online")
		}
	case <-time.After(time.Second):
		t.Fatal("no initial notification")
	}

	healthy.Store(false)
	select {
	case online := <-flips:
		if online {
			t.Error("flip should report offline")
		}
	case <-time.After(time.Second):
		t.Fatal("probe never noticed the outage")
	}
	if p.Online() {
		t.Error("Online() should report false")
	}

	healthy.Store(true)
	select {
	case online := <-flips:
		if !online {
			t.Error("flip should report back online")
		}
	case <-time.After(time.Second):
		t.Fatal("probe never noticed recovery")
	}
}

func TestProbeStartStopIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbe(NewClient(srv.URL, "", "device-a", time.Second), 50*time.Millisecond)
	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}

func TestManualConnectivity(t *testing.T) {
	m := NewManual(false)
	if m.Online() {
		t.Fatal("want offline initially")
	}

	var flips []bool
	unhook := m.OnChange(func(online bool) { flips = append(flips, online) })

	m.SetOnline(true)
	m.SetOnline(true) // no change, no notify
	m.SetOnline(false)

	if m.Online() {
		t.Error("want offline after final flip")
	}
	if len(flips) != 2 || flips[0] != true || flips[1] != false {
		t.Errorf("flips = %v, want [true false]", flips)
	}

	unhook()
	m.SetOnline(true)
	if len(flips) != 2 {
		t.Error("unhooked subscriber still notified")
	}
}
