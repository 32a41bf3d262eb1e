package handlers

import (
	"github.com/ggoodman/ocpp-server-go/schema"
)

// Actions an operator initiates that the builtin schema set does not cover.
const (
	ActionReset                  = "Reset"
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
)

// ResetRequest asks a charge point to reboot.
type ResetRequest struct {
	Type string `json:"type" jsonschema:"enum=Hard,enum=Soft"`
}

// ResetResponse is the charge point's answer to a ResetRequest.
type ResetResponse struct {
	Status string `json:"status" jsonschema:"enum=Accepted,enum=Rejected"`
}

// RemoteStartTransactionRequest asks a charge point to start a transaction.
type RemoteStartTransactionRequest struct {
	ConnectorID     *int           `json:"connectorId,omitempty" jsonschema:"minimum=1"`
	IDTag           string         `json:"idTag" jsonschema:"minLength=1,maxLength=20"`
	ChargingProfile map[string]any `json:"chargingProfile,omitempty"`
}

// RemoteStopTransactionRequest asks a charge point to stop a transaction.
type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId"`
}

// RemoteStartStopResponse answers both remote start and remote stop.
type RemoteStartStopResponse struct {
	Status string `json:"status" jsonschema:"enum=Accepted,enum=Rejected"`
}

// CommandSchemas returns the schema registrations for the operator
// commands, for the ocpp1.6 version.
func CommandSchemas() []schema.Option {
	const v = schema.DefaultVersion
	return []schema.Option{
		schema.WithReflected(v, ActionReset, false, &ResetRequest{}),
		schema.WithReflected(v, ActionReset, true, &ResetResponse{}),
		schema.WithReflected(v, ActionRemoteStartTransaction, false, &RemoteStartTransactionRequest{}),
		schema.WithReflected(v, ActionRemoteStartTransaction, true, &RemoteStartStopResponse{}),
		schema.WithReflected(v, ActionRemoteStopTransaction, false, &RemoteStopTransactionRequest{}),
		schema.WithReflected(v, ActionRemoteStopTransaction, true, &RemoteStartStopResponse{}),
	}
}
