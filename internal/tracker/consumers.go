package tracker

import "sync"

// Consumers maps open player instances to the service whose connection
// budget they use.
type Consumers struct {
	mu   sync.Mutex
	byID map[string]string // consumerID -> serviceID
}

func NewConsumers() *Consumers {
	return &Consumers{byID: make(map[string]string)}
}

// Add registers consumerID against serviceID, replacing any earlier binding.
func (c *Consumers) Add(consumerID, serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[consumerID] = serviceID
}

// Remove unregisters consumerID. Unknown IDs are ignored.
func (c *Consumers) Remove(consumerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, consumerID)
}

// Has reports whether consumerID is registered.
func (c *Consumers) Has(consumerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[consumerID]
	return ok
}

// CountForService returns the number of consumers bound to serviceID.
func (c *Consumers) CountForService(serviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.byID {
		if s == serviceID {
			n++
		}
	}
	return n
}

// Len returns the total number of consumers.
func (c *Consumers) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}
