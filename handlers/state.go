package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ggoodman/ocpp-server-go/storage"
)

const (
	keyBoot          = "boot"
	keyConnectors    = "connectors"
	keyLastHeartbeat = "last_heartbeat"
	keyMeterPrefix   = "meter:"
	keyTxPrefix      = "tx:"

	// counterTransaction is global so ids are unique across charge points.
	counterTransaction = "transaction"
)

// BootInfo is what a charge point reported in its last BootNotification.
type BootInfo struct {
	Vendor          string    `json:"vendor"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serialNumber,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	BootedAt        time.Time `json:"bootedAt"`
}

// ConnectorStatus is the last StatusNotification for one connector.
type ConnectorStatus struct {
	Status    string    `json:"status"`
	ErrorCode string    `json:"errorCode"`
	Info      string    `json:"info,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is a transaction started on a charge point.
type Transaction struct {
	ID          int        `json:"id"`
	ConnectorID int        `json:"connectorId"`
	IDTag       string     `json:"idTag"`
	MeterStart  int        `json:"meterStart"`
	StartedAt   time.Time  `json:"startedAt"`
	MeterStop   *int       `json:"meterStop,omitempty"`
	StoppedAt   *time.Time `json:"stoppedAt,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// State is the persisted view of one charge point.
type State struct {
	CPID          string                  `json:"id"`
	Boot          *BootInfo               `json:"boot,omitempty"`
	Connectors    map[int]ConnectorStatus `json:"connectors,omitempty"`
	LastHeartbeat *time.Time              `json:"lastHeartbeat,omitempty"`
}

// ChargePointState reads the persisted view of cpid. Parts that were never
// reported are left nil.
func ChargePointState(ctx context.Context, store storage.Storage, cpid string) (*State, error) {
	st := &State{CPID: cpid}
	if _, err := load(ctx, store, cpid, keyBoot, &st.Boot); err != nil {
		return nil, err
	}
	if _, err := load(ctx, store, cpid, keyConnectors, &st.Connectors); err != nil {
		return nil, err
	}
	if _, err := load(ctx, store, cpid, keyLastHeartbeat, &st.LastHeartbeat); err != nil {
		return nil, err
	}
	return st, nil
}

// LoadTransaction returns the transaction id recorded for cpid, or nil.
func LoadTransaction(ctx context.Context, store storage.Storage, cpid string, id int) (*Transaction, error) {
	var tx *Transaction
	if _, err := load(ctx, store, cpid, txKey(id), &tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func txKey(id int) string { return keyTxPrefix + strconv.Itoa(id) }

func load(ctx context.Context, store storage.Storage, cpid, key string, v any) (bool, error) {
	item, err := store.Get(ctx, key, storage.WithChargePoint(cpid))
	if err != nil {
		return false, fmt.Errorf("load %s for %s: %w", key, cpid, err)
	}
	if item == nil {
		return false, nil
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		return false, fmt.Errorf("decode %s for %s: %w", key, cpid, err)
	}
	return true, nil
}

func save(ctx context.Context, store storage.Storage, cpid, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s for %s: %w", key, cpid, err)
	}
	if err := store.Set(ctx, key, data, storage.WithChargePoint(cpid)); err != nil {
		return fmt.Errorf("save %s for %s: %w", key, cpid, err)
	}
	return nil
}
