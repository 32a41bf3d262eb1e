package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/ocpp-server-go/ocpp"
)

// Typed adapts a function over decoded request and response types into a
// Handler. The request payload is decoded into Req; the returned *Res is
// sent as the CALLRESULT. Returning a *CallError answers with that CALLERROR.
func Typed[Req any, Res any](fn func(ctx context.Context, req *Req) (*Res, error)) Handler {
	return func(ctx context.Context, payload json.RawMessage, res *Response) error {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return res.Error(ctx, ocpp.ErrorCodeFormationViolation,
				fmt.Sprintf("Payload for Action %s could not be decoded", res.Action()), nil)
		}

		out, err := fn(ctx, &req)
		if err != nil {
			return err
		}
		if out == nil {
			return res.Success(ctx, nil)
		}
		return res.Success(ctx, out)
	}
}
