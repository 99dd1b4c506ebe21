package alwaysoffline

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// clientIDHeader lets a browsing context identify itself, e.g. per tab.
// Requests without it are attributed to their source IP.
const clientIDHeader = "X-Offline-Client"

// ClientInfo describes one known browsing context.
type ClientInfo struct {
	ID string `json:"id"`
	// Version of the controlling worker, empty for uncontrolled clients.
	Controller string `json:"controller,omitempty"`
	WorkerID   string `json:"worker,omitempty"`
}

func clientID(r *http.Request) string {
	if id := r.Header.Get(clientIDHeader); id != "" {
		return id
	}
	return getRequestSourceIp(r)
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}

// clients is the registry of browsing contexts and their controlling worker.
// A nil controller marks an uncontrolled client.
type clients struct {
	mu         sync.Mutex
	controller map[string]*Worker
}

func newClients() *clients {
	return &clients{controller: make(map[string]*Worker)}
}

// navigate records a navigation of the client. A navigation puts the client under the
// control of the active worker, or leaves it uncontrolled when there is none.
func (c *clients) navigate(id string, active *Worker) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller[id] = active
	return active
}

// controllerOf returns the worker controlling the client, nil if it is unknown or uncontrolled.
func (c *clients) controllerOf(id string) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller[id]
}

// claim makes w the controller of every known client and returns how many there are.
func (c *clients) claim(w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.controller {
		c.controller[id] = w
	}
	return len(c.controller)
}

// replace hands the clients of old over to w.
func (c *clients) replace(old, w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, controller := range c.controller {
		if controller == old {
			c.controller[id] = w
			n++
		}
	}
	return n
}

func (c *clients) controlledBy(w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, controller := range c.controller {
		if controller == w {
			n++
		}
	}
	return n
}

// release forgets the client and reports whether it was known.
func (c *clients) release(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.controller[id]
	delete(c.controller, id)
	return ok
}

// list returns all clients ordered by id.
func (c *clients) list() []ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]ClientInfo, 0, len(c.controller))
	for id, w := range c.controller {
		info := ClientInfo{ID: id}
		if w != nil {
			info.Controller = w.Version()
			info.WorkerID = w.ID()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
