package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/sirupsen/logrus"

	"charge_point/chargepoint"
	"charge_point/common"
	"charge_point/session"
)

// Command bridge action names.
const (
	HEARTBEAT           = "heartbeat"
	STATUS_NOTIFICATION = "status.notification"
	DATA_TRANSFER       = "data.transfer"
	AUTHORIZE           = "authorize"
	CONNECTORS          = "connectors"
	REGISTRATION        = "registration"
)

type Function func(string, []byte, chan common.Response)

type statusNotificationCommand struct {
	ConnectorId int                       `json:"connectorId" validate:"gte=0"`
	Status      core.ChargePointStatus    `json:"status" validate:"required,oneof=Available Preparing Charging SuspendedEVSE SuspendedEV Finishing Reserved Unavailable Faulted"`
	ErrorCode   core.ChargePointErrorCode `json:"errorCode"`
}

type dataTransferCommand struct {
	VendorId  string      `json:"vendorId" validate:"required,max=255"`
	MessageId string      `json:"messageId" validate:"max=50"`
	Data      interface{} `json:"data"`
}

type authorizeCommand struct {
	IdTag string `json:"idTag" validate:"required,max=20"`
}

// CoreProfileActions runs bridge commands as core profile calls to the
// central system.
type CoreProfileActions struct {
	ctx          context.Context
	logger       *logrus.Entry
	caller       chargepoint.Caller
	registration *chargepoint.Registration
	chargePoint  *chargepoint.ChargePoint
	validate     *validator.Validate
}

// InitializeCoreProfileActions binds the actions to one charge point. Calls
// are abandoned once ctx is done.
func InitializeCoreProfileActions(ctx context.Context, logger *logrus.Entry, caller chargepoint.Caller, registration *chargepoint.Registration, chargePoint *chargepoint.ChargePoint) CoreProfileActions {
	return CoreProfileActions{
		ctx:          ctx,
		logger:       logger,
		caller:       caller,
		registration: registration,
		chargePoint:  chargePoint,
		validate:     validator.New(),
	}
}

// Handlers maps every action name to its function.
func (cpa *CoreProfileActions) Handlers() map[string]Function {
	return map[string]Function{
		HEARTBEAT:           cpa.Heartbeat,
		STATUS_NOTIFICATION: cpa.StatusNotification,
		DATA_TRANSFER:       cpa.DataTransfer,
		AUTHORIZE:           cpa.Authorize,
		CONNECTORS:          cpa.Connectors,
		REGISTRATION:        cpa.Registration,
	}
}

func (cpa *CoreProfileActions) Heartbeat(chargePointID string, payload []byte, responseChannel chan common.Response) {
	currentTime, err := cpa.registration.Heartbeat(cpa.ctx)
	if err != nil {
		cpa.logDefault(chargePointID, core.HeartbeatFeatureName).Errorf("error on request: %v", err)
		responseChannel <- callFailed(err)
		return
	}
	responseChannel <- common.Response{Payload: map[string]interface{}{"currentTime": currentTime}}
}

func (cpa *CoreProfileActions) StatusNotification(chargePointID string, payload []byte, responseChannel chan common.Response) {
	request := statusNotificationCommand{ErrorCode: core.NoError}
	if err := cpa.decode(payload, &request); err != nil {
		responseChannel <- common.NewErrorResponse("command.status.notification.payload.not.valid", err.Error())
		return
	}

	err := cpa.registration.NotifyStatus(cpa.ctx, request.ConnectorId, request.Status, request.ErrorCode)
	if err != nil {
		cpa.logDefault(chargePointID, core.StatusNotificationFeatureName).Errorf("error on request: %v", err)
		responseChannel <- callFailed(err)
		return
	}
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"connectorId": request.ConnectorId,
		"status":      request.Status,
		"message":     fmt.Sprintf("connector %v reported as %v", request.ConnectorId, request.Status),
	}}
}

func (cpa *CoreProfileActions) DataTransfer(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request dataTransferCommand
	if err := cpa.decode(payload, &request); err != nil {
		responseChannel <- common.NewErrorResponse("command.data.transfer.payload.not.valid", err.Error())
		return
	}

	var confirmation core.DataTransferConfirmation
	err := cpa.caller.Invoke(cpa.ctx, core.DataTransferFeatureName, &core.DataTransferRequest{
		VendorId:  request.VendorId,
		MessageId: request.MessageId,
		Data:      request.Data,
	}, &confirmation)
	if err != nil {
		cpa.logDefault(chargePointID, core.DataTransferFeatureName).Errorf("error on request: %v", err)
		responseChannel <- callFailed(err)
		return
	}

	var response common.Response
	switch confirmation.Status {
	case core.DataTransferStatusAccepted:
		response.Payload = map[string]interface{}{"status": confirmation.Status, "data": confirmation.Data}
	case core.DataTransferStatusUnknownVendorId:
		response.Err = &common.Error{Code: "command.data.transfer.unknown.vendor", Message: fmt.Sprintf("vendor %v unknown to the central system", request.VendorId)}
	case core.DataTransferStatusUnknownMessageId:
		response.Err = &common.Error{Code: "command.data.transfer.unknown.message", Message: fmt.Sprintf("message %v unknown to the central system", request.MessageId)}
	default:
		response.Err = &common.Error{Code: "command.data.transfer.rejected", Message: "data transfer rejected"}
	}
	responseChannel <- response
}

func (cpa *CoreProfileActions) Authorize(chargePointID string, payload []byte, responseChannel chan common.Response) {
	var request authorizeCommand
	if err := cpa.decode(payload, &request); err != nil {
		responseChannel <- common.NewErrorResponse("command.authorize.payload.not.valid", err.Error())
		return
	}

	var confirmation core.AuthorizeConfirmation
	err := cpa.caller.Invoke(cpa.ctx, core.AuthorizeFeatureName, core.NewAuthorizationRequest(request.IdTag), &confirmation)
	if err != nil {
		cpa.logDefault(chargePointID, core.AuthorizeFeatureName).Errorf("error on request: %v", err)
		responseChannel <- callFailed(err)
		return
	}
	if confirmation.IdTagInfo == nil {
		responseChannel <- common.NewErrorResponse("command.authorize.no.id.tag.info", "central system returned no idTagInfo")
		return
	}

	result := map[string]interface{}{"idTag": request.IdTag, "status": confirmation.IdTagInfo.Status}
	if confirmation.IdTagInfo.ExpiryDate != nil {
		result["expiryDate"] = confirmation.IdTagInfo.ExpiryDate.FormatTimestamp()
	}
	if confirmation.IdTagInfo.ParentIdTag != "" {
		result["parentIdTag"] = confirmation.IdTagInfo.ParentIdTag
	}
	responseChannel <- common.Response{Payload: result}
}

// Connectors reports the statuses last sent to the central system.
func (cpa *CoreProfileActions) Connectors(chargePointID string, payload []byte, responseChannel chan common.Response) {
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"connectors": cpa.chargePoint.Connectors(),
		"faulted":    cpa.chargePoint.Faulted(),
	}}
}

// Registration reports the outcome of the latest boot.
func (cpa *CoreProfileActions) Registration(chargePointID string, payload []byte, responseChannel chan common.Response) {
	status, ok := cpa.registration.Status()
	if !ok {
		responseChannel <- common.NewErrorResponse("command.registration.unknown", "no BootNotification answered yet")
		return
	}
	responseChannel <- common.Response{Payload: map[string]interface{}{
		"status":   status,
		"interval": int(cpa.registration.Interval().Seconds()),
	}}
}

func (cpa *CoreProfileActions) logDefault(chargePointId string, feature string) *logrus.Entry {
	return cpa.logger.WithFields(logrus.Fields{"client": chargePointId, "message": feature})
}

func (cpa *CoreProfileActions) decode(payload []byte, request interface{}) error {
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, request); err != nil {
			return err
		}
	}
	return cpa.validate.Struct(request)
}

func callFailed(err error) common.Response {
	var remote *session.RemoteCallError
	switch {
	case errors.As(err, &remote):
		return common.NewErrorResponse("command.call.error", fmt.Sprintf("%v: %v", remote.Code, remote.Description))
	case errors.Is(err, session.ErrCallTimeout):
		return common.NewErrorResponse("command.call.timeout", err.Error())
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrConnectionClosed):
		return common.NewErrorResponse("command.session.closed", err.Error())
	}
	return common.NewErrorResponse("command.message.not.send", err.Error())
}
