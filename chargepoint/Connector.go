package chargepoint

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// Connector is the last status reported for one connector. Connector 0
// stands for the charge point as a whole.
type Connector struct {
	ID        int                       `json:"connectorId"`
	Status    core.ChargePointStatus    `json:"status"`
	ErrorCode core.ChargePointErrorCode `json:"errorCode"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

func (c Connector) isFaulted() bool {
	return c.Status == core.ChargePointStatusFaulted || c.ErrorCode != core.NoError
}
