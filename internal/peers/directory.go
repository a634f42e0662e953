// Package peers computes the A2A addressing plan for a workspace: which
// host/port pair each agent process will answer on, and which agents may
// call each other directly. It records the plan only; the runtime and the
// agent binaries do the actual binding.
package peers

import (
	"fmt"
	"sort"
	"sync"
)

// peerPortStride separates the primary API port range from the peer (A2A)
// port range, so an operator can predict both ports from an agent's ordinal:
// api = base+i, peer = base+stride+i.
const peerPortStride = 100

// ErrUnknownAgent is returned when a link or resolve references an agent
// that was never assigned an endpoint.
type ErrUnknownAgent struct {
	AgentID string
}

func (e *ErrUnknownAgent) Error() string {
	return fmt.Sprintf("unknown agent %q", e.AgentID)
}

// Endpoint is one agent's slot in the addressing plan.
type Endpoint struct {
	AgentID  string `json:"agent_id"`
	Host     string `json:"host"`
	APIPort  int    `json:"api_port"`
	PeerPort int    `json:"peer_port"`
}

// Directory assigns endpoints and tracks symmetric peer links. Read-mostly
// after workspace setup.
type Directory struct {
	mu        sync.RWMutex
	host      string
	basePort  int
	next      int
	endpoints map[string]Endpoint
	links     map[string]map[string]bool
}

func New(host string, basePort int) *Directory {
	if host == "" {
		host = "127.0.0.1"
	}
	return &Directory{
		host:      host,
		basePort:  basePort,
		endpoints: make(map[string]Endpoint),
		links:     make(map[string]map[string]bool),
	}
}

// Assign reserves the next ordinal's port pair for the agent. Assigning an
// already-known agent returns its existing endpoint unchanged, so the plan
// stays stable across reloads.
func (d *Directory) Assign(agentID string) Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ep, ok := d.endpoints[agentID]; ok {
		return ep
	}

	ep := Endpoint{
		AgentID:  agentID,
		Host:     d.host,
		APIPort:  d.basePort + d.next,
		PeerPort: d.basePort + peerPortStride + d.next,
	}
	d.next++

	d.endpoints[agentID] = ep
	d.links[agentID] = make(map[string]bool)
	return ep
}

// Link establishes the symmetric peer relationship between two agents.
func (d *Directory) Link(a, b string) error {
	if a == b {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.endpoints[a]; !ok {
		return &ErrUnknownAgent{AgentID: a}
	}
	if _, ok := d.endpoints[b]; !ok {
		return &ErrUnknownAgent{AgentID: b}
	}

	d.links[a][b] = true
	d.links[b][a] = true
	return nil
}

// LinkAll establishes every pairwise link among the given agents, the
// configuration step that makes a batch fully connected.
func (d *Directory) LinkAll(agentIDs []string) error {
	for i := 0; i < len(agentIDs); i++ {
		for j := i + 1; j < len(agentIDs); j++ {
			if err := d.Link(agentIDs[i], agentIDs[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Directory) Resolve(agentID string) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.endpoints[agentID]
	return ep, ok
}

// LinksOf returns the sorted peer set of an agent. Unknown agents have no
// links.
func (d *Directory) LinksOf(agentID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set, ok := d.links[agentID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Plan returns every endpoint ordered by API port, for the web API and
// status output.
func (d *Directory) Plan() []Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APIPort < out[j].APIPort })
	return out
}
