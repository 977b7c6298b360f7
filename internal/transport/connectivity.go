package transport

import (
	"context"
	"sync"
	"time"
)

// Connectivity is an injected capability reporting whether the device can
// reach the network. It replaces runtime-specific online/offline listeners
// so the engine stays portable.
type Connectivity interface {
	Online() bool
	// OnChange registers a callback fired whenever the online state flips.
	// The returned function unregisters it.
	OnChange(fn func(online bool)) func()
}

// Probe polls a health endpoint at a fixed interval and reports reachability.
type Probe struct {
	client   *Client
	interval time.Duration

	mu      sync.Mutex
	online  bool
	known   bool
	subs    map[int]func(bool)
	nextSub int
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewProbe creates a connectivity probe over the given REST client.
func NewProbe(client *Client, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Probe{
		client:   client,
		interval: interval,
		subs:     make(map[int]func(bool)),
	}
}

// Start begins polling. Safe to call once.
func (p *Probe) Start() {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	p.check()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.check()
			}
		}
	}()
}

// Stop halts polling.
func (p *Probe) Stop() {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Probe) check() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	err := p.client.HealthCheck(ctx)
	cancel()
	p.set(err == nil)
}

func (p *Probe) set(online bool) {
	p.mu.Lock()
	changed := !p.known || p.online != online
	p.known = true
	p.online = online
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(p.subs))
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Online reports the last probed state.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// OnChange registers a state-flip callback.
func (p *Probe) OnChange(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

// Manual is a Connectivity you flip by hand; used by tests and by callers
// that already know their network state.
type Manual struct {
	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
}

// NewManual creates a Manual connectivity in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

// SetOnline flips the state and notifies subscribers on change.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	var subs []func(bool)
	if changed {
		subs = make([]func(bool), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a state-flip callback.
func (m *Manual) OnChange(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
