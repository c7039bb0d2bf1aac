package chargepoint

import (
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargePointStatuses(t *testing.T) {
	cp := NewChargePoint("CP-1")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, ok := cp.Connector(1)
	assert.False(t, ok)

	cp.SetStatus(2, core.ChargePointStatusFaulted, core.GroundFailure, at)
	cp.SetStatus(0, core.ChargePointStatusAvailable, core.NoError, at)
	cp.SetStatus(1, core.ChargePointStatusCharging, core.NoError, at)
	cp.SetStatus(1, core.ChargePointStatusFinishing, core.NoError, at.Add(time.Minute))

	connector, ok := cp.Connector(1)
	require.True(t, ok)
	assert.Equal(t, core.ChargePointStatusFinishing, connector.Status)
	assert.Equal(t, at.Add(time.Minute), connector.UpdatedAt)

	connectors := cp.Connectors()
	require.Len(t, connectors, 3)
	for i, c := range connectors {
		assert.Equal(t, i, c.ID)
	}
	assert.Equal(t, []int{2}, cp.Faulted())
	assert.Equal(t, "CP-1", cp.ID())
}
