package common

// Command is a request received on the command bridge, naming the charge
// point it targets and the action to run.
type Command struct {
	Action        string      `json:"action" validate:"required"`
	ChargePointId string      `json:"chargePointId" validate:"required"`
	Payload       interface{} `json:"payload"`
}
