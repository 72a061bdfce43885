package endpoint

import (
	"net"
	"sort"
	"sync"

	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transport"
)

// Module is one link in the priority-ordered chain spec.md §6 names
// ("module hooks {on_rx_request, on_rx_response, on_tx_request,
// on_tx_response} ordered by integer priority"), generalizing the
// teacher's flat StackCallbacks struct (_examples/arzzra-soft_phone/pkg/dialog/stack.go)
// into an ordered chain several independent concerns can register
// against instead of one fixed callback set.
//
// Lower Priority runs first on the receive path (mirroring the
// lowest-number-first convention of pjsip's module priority); any
// hook left nil is skipped. A hook returns true to let the chain
// continue to the next module, false to stop dispatch here (the
// module has fully handled the message).
type Module struct {
	Name     string
	Priority int

	OnRxRequest  func(req *message.Message, remote net.Addr, t transport.Transport) bool
	OnRxResponse func(resp *message.Message, remote net.Addr, t transport.Transport) bool
	OnTxRequest  func(req *message.Message) bool
	OnTxResponse func(resp *message.Message) bool
}

// moduleChain holds the registered modules sorted by Priority,
// re-sorted on every Register since the chain is built once at
// startup and rarely touched afterward.
type moduleChain struct {
	mu      sync.RWMutex
	modules []*Module
}

func newModuleChain() *moduleChain {
	return &moduleChain{}
}

// Register adds m to the chain, keeping it sorted by Priority.
func (c *moduleChain) Register(m *Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, m)
	sort.SliceStable(c.modules, func(i, j int) bool {
		return c.modules[i].Priority < c.modules[j].Priority
	})
}

func (c *moduleChain) snapshot() []*Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Module, len(c.modules))
	copy(out, c.modules)
	return out
}

// dispatchRxRequest walks the chain in priority order, stopping at the
// first module that returns false.
func (c *moduleChain) dispatchRxRequest(req *message.Message, remote net.Addr, t transport.Transport) {
	for _, m := range c.snapshot() {
		if m.OnRxRequest == nil {
			continue
		}
		if !m.OnRxRequest(req, remote, t) {
			return
		}
	}
}

func (c *moduleChain) dispatchRxResponse(resp *message.Message, remote net.Addr, t transport.Transport) {
	for _, m := range c.snapshot() {
		if m.OnRxResponse == nil {
			continue
		}
		if !m.OnRxResponse(resp, remote, t) {
			return
		}
	}
}

func (c *moduleChain) dispatchTxRequest(req *message.Message) {
	for _, m := range c.snapshot() {
		if m.OnTxRequest == nil {
			continue
		}
		if !m.OnTxRequest(req) {
			return
		}
	}
}

func (c *moduleChain) dispatchTxResponse(resp *message.Message) {
	for _, m := range c.snapshot() {
		if m.OnTxResponse == nil {
			continue
		}
		if !m.OnTxResponse(resp) {
			return
		}
	}
}
