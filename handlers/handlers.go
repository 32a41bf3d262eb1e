package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

const defaultHeartbeatInterval = 5 * time.Minute

// AuthorizeFunc decides whether idTag may charge on cpid.
type AuthorizeFunc func(ctx context.Context, cpid, idTag string) (types.AuthorizationStatus, error)

// Set is the default handler set. The zero value is not usable: Store is
// required.
type Set struct {
	Store storage.Storage
	// HeartbeatInterval is returned in BootNotification responses.
	HeartbeatInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// Authorize defaults to accepting every id tag.
	Authorize AuthorizeFunc
	Logger    *slog.Logger
}

func (s *Set) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Set) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Set) interval() int {
	if s.HeartbeatInterval > 0 {
		return int(s.HeartbeatInterval / time.Second)
	}
	return int(defaultHeartbeatInterval / time.Second)
}

func (s *Set) authorize(ctx context.Context, cpid, idTag string) (*types.IdTagInfo, error) {
	if s.Authorize == nil {
		return types.NewIdTagInfo(types.AuthorizationStatusAccepted), nil
	}
	status, err := s.Authorize(ctx, cpid, idTag)
	if err != nil {
		return nil, err
	}
	return types.NewIdTagInfo(status), nil
}

// Install registers the handlers for the CALLs a charge point initiates.
func (s *Set) Install(e *engine.Engine) {
	cpid := e.CPID()

	e.RegisterHandler(core.BootNotificationFeatureName, engine.Typed(func(ctx context.Context, req *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
		return s.bootNotification(ctx, cpid, req)
	}))
	e.RegisterHandler(core.HeartbeatFeatureName, engine.Typed(func(ctx context.Context, _ *core.HeartbeatRequest) (*core.HeartbeatConfirmation, error) {
		return s.heartbeat(ctx, cpid)
	}))
	e.RegisterHandler(core.StatusNotificationFeatureName, engine.Typed(func(ctx context.Context, req *core.StatusNotificationRequest) (*core.StatusNotificationConfirmation, error) {
		return s.statusNotification(ctx, cpid, req)
	}))
	e.RegisterHandler(core.AuthorizeFeatureName, engine.Typed(func(ctx context.Context, req *core.AuthorizeRequest) (*core.AuthorizeConfirmation, error) {
		info, err := s.authorize(ctx, cpid, req.IdTag)
		if err != nil {
			return nil, err
		}
		return core.NewAuthorizationConfirmation(info), nil
	}))
	e.RegisterHandler(core.StartTransactionFeatureName, engine.Typed(func(ctx context.Context, req *core.StartTransactionRequest) (*core.StartTransactionConfirmation, error) {
		return s.startTransaction(ctx, cpid, req)
	}))
	e.RegisterHandler(core.StopTransactionFeatureName, engine.Typed(func(ctx context.Context, req *core.StopTransactionRequest) (*core.StopTransactionConfirmation, error) {
		return s.stopTransaction(ctx, cpid, req)
	}))
	e.RegisterHandler(core.MeterValuesFeatureName, engine.Typed(func(ctx context.Context, req *core.MeterValuesRequest) (*core.MeterValuesConfirmation, error) {
		return s.meterValues(ctx, cpid, req)
	}))
	e.RegisterHandler(core.DataTransferFeatureName, engine.Typed(func(ctx context.Context, req *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
		s.log().InfoContext(ctx, "handlers.data_transfer.unknown_vendor",
			slog.String("cpid", cpid),
			slog.String("vendor_id", req.VendorId))
		return core.NewDataTransferConfirmation(core.DataTransferStatusUnknownVendorId), nil
	}))
}

func (s *Set) bootNotification(ctx context.Context, cpid string, req *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	now := s.now()
	boot := &BootInfo{
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    req.ChargePointSerialNumber,
		FirmwareVersion: req.FirmwareVersion,
		BootedAt:        now,
	}
	if err := save(ctx, s.Store, cpid, keyBoot, boot); err != nil {
		return nil, err
	}

	s.log().InfoContext(ctx, "handlers.boot",
		slog.String("cpid", cpid),
		slog.String("vendor", boot.Vendor),
		slog.String("model", boot.Model))
	return core.NewBootNotificationConfirmation(types.NewDateTime(now), s.interval(), core.RegistrationStatusAccepted), nil
}

func (s *Set) heartbeat(ctx context.Context, cpid string) (*core.HeartbeatConfirmation, error) {
	now := s.now()
	if err := save(ctx, s.Store, cpid, keyLastHeartbeat, now); err != nil {
		return nil, err
	}
	return core.NewHeartbeatConfirmation(types.NewDateTime(now)), nil
}

func (s *Set) statusNotification(ctx context.Context, cpid string, req *core.StatusNotificationRequest) (*core.StatusNotificationConfirmation, error) {
	connectors := map[int]ConnectorStatus{}
	if _, err := load(ctx, s.Store, cpid, keyConnectors, &connectors); err != nil {
		return nil, err
	}
	if connectors == nil {
		connectors = map[int]ConnectorStatus{}
	}

	updated := s.now()
	if req.Timestamp != nil {
		updated = req.Timestamp.Time
	}
	connectors[req.ConnectorId] = ConnectorStatus{
		Status:    string(req.Status),
		ErrorCode: string(req.ErrorCode),
		Info:      req.Info,
		UpdatedAt: updated,
	}
	if err := save(ctx, s.Store, cpid, keyConnectors, connectors); err != nil {
		return nil, err
	}
	return core.NewStatusNotificationConfirmation(), nil
}

func (s *Set) startTransaction(ctx context.Context, cpid string, req *core.StartTransactionRequest) (*core.StartTransactionConfirmation, error) {
	info, err := s.authorize(ctx, cpid, req.IdTag)
	if err != nil {
		return nil, err
	}

	id, err := s.Store.Increment(ctx, counterTransaction)
	if err != nil {
		return nil, err
	}

	started := s.now()
	if req.Timestamp != nil {
		started = req.Timestamp.Time
	}
	tx := &Transaction{
		ID:          int(id),
		ConnectorID: req.ConnectorId,
		IDTag:       req.IdTag,
		MeterStart:  req.MeterStart,
		StartedAt:   started,
	}
	if err := save(ctx, s.Store, cpid, txKey(tx.ID), tx); err != nil {
		return nil, err
	}

	s.log().InfoContext(ctx, "handlers.transaction.started",
		slog.String("cpid", cpid),
		slog.Int("transaction_id", tx.ID),
		slog.Int("connector_id", tx.ConnectorID))
	return core.NewStartTransactionConfirmation(info, tx.ID), nil
}

func (s *Set) stopTransaction(ctx context.Context, cpid string, req *core.StopTransactionRequest) (*core.StopTransactionConfirmation, error) {
	tx, err := LoadTransaction(ctx, s.Store, cpid, req.TransactionId)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		// Stations replay stops for transactions this server never saw.
		s.log().WarnContext(ctx, "handlers.transaction.unknown",
			slog.String("cpid", cpid),
			slog.Int("transaction_id", req.TransactionId))
		tx = &Transaction{ID: req.TransactionId, IDTag: req.IdTag}
	}

	stopped := s.now()
	if req.Timestamp != nil {
		stopped = req.Timestamp.Time
	}
	meterStop := req.MeterStop
	tx.MeterStop = &meterStop
	tx.StoppedAt = &stopped
	tx.Reason = string(req.Reason)
	if err := save(ctx, s.Store, cpid, txKey(tx.ID), tx); err != nil {
		return nil, err
	}

	return core.NewStopTransactionConfirmation(), nil
}

func (s *Set) meterValues(ctx context.Context, cpid string, req *core.MeterValuesRequest) (*core.MeterValuesConfirmation, error) {
	if len(req.MeterValue) > 0 {
		key := keyMeterPrefix + strconv.Itoa(req.ConnectorId)
		if err := save(ctx, s.Store, cpid, key, req.MeterValue[len(req.MeterValue)-1]); err != nil {
			return nil, err
		}
	}
	return core.NewMeterValuesConfirmation(), nil
}
