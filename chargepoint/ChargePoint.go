package chargepoint

import (
	"sort"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// ChargePoint tracks the connector statuses this charge point has reported
// to the central system.
type ChargePoint struct {
	id string

	mu         sync.Mutex
	connectors map[int]*Connector // No assumptions about the # of connectors
}

func NewChargePoint(id string) *ChargePoint {
	return &ChargePoint{id: id, connectors: map[int]*Connector{}}
}

func (cp *ChargePoint) ID() string {
	return cp.id
}

func (cp *ChargePoint) getConnector(id int) *Connector {
	c, ok := cp.connectors[id]
	if !ok {
		c = &Connector{ID: id, ErrorCode: core.NoError}
		cp.connectors[id] = c
	}
	return c
}

// SetStatus records a reported status.
func (cp *ChargePoint) SetStatus(connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode, at time.Time) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c := cp.getConnector(connectorID)
	c.Status = status
	c.ErrorCode = errorCode
	c.UpdatedAt = at
}

// Connector returns a copy of the connector state, and false if nothing was
// ever reported for it.
func (cp *ChargePoint) Connector(id int) (Connector, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c, ok := cp.connectors[id]
	if !ok {
		return Connector{}, false
	}
	return *c, true
}

// Connectors returns every known connector ordered by id.
func (cp *ChargePoint) Connectors() []Connector {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]Connector, 0, len(cp.connectors))
	for _, c := range cp.connectors {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Faulted returns the ids of connectors last reported in a fault.
func (cp *ChargePoint) Faulted() []int {
	var ids []int
	for _, c := range cp.Connectors() {
		if c.isFaulted() {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
