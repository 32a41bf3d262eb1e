// Package apiserver exposes the operator API: which charge points are
// connected, what they reported, and a way to send them CALLs.
//
//	GET  /cp                        connected charge points
//	GET  /cp/{cpid}                 persisted state of a connected charge point
//	POST /cp/{cpid}/call/{action}   send a CALL and wait for the response
//
// GET endpoints answer JSON, or a text table when the client prefers
// text/plain.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/handlers"
	"github.com/ggoodman/ocpp-server-go/registry"
	"github.com/ggoodman/ocpp-server-go/storage"
	"github.com/jedib0t/go-pretty/v6/table"
)

var _ http.Handler = (*Server)(nil)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	textMediaType  = contenttype.NewMediaType("text/plain")
	listMediaTypes = []contenttype.MediaType{jsonMediaType, textMediaType}
)

const (
	maxCallBody        = 64 << 10
	defaultCallTimeout = 60 * time.Second
)

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger used by the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCallTimeout bounds how long POST /cp/{cpid}/call/{action} waits,
// in addition to the engine's own pending-call timeout. Non-positive values
// keep the default of 60s, so a request never waits on the client alone.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// Server implements the operator API.
type Server struct {
	log         *slog.Logger
	registry    *registry.Registry
	store       storage.Storage
	callTimeout time.Duration
	mux         *http.ServeMux
}

// ChargePoint is one entry of GET /cp.
type ChargePoint struct {
	ID        string `json:"id"`
	Protocol  string `json:"protocol"`
	Pending   int    `json:"pending"`
	Connected bool   `json:"connected"`
}

// CallError is the body of a 502 answer to a CALL the charge point rejected.
type CallError struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// New constructs the operator API over the connected engines in reg and the
// state persisted in store.
func New(reg *registry.Registry, store storage.Storage, opts ...Option) *Server {
	s := &Server{log: slog.Default(), registry: reg, store: store, callTimeout: defaultCallTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cp", s.handleList)
	mux.HandleFunc("GET /cp/{cpid}", s.handleState)
	mux.HandleFunc("POST /cp/{cpid}/call/{action}", s.handleCall)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.negotiate(w, r)
	if !ok {
		return
	}

	ids := s.registry.List()
	cps := make([]ChargePoint, 0, len(ids))
	for _, id := range ids {
		e, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		cps = append(cps, ChargePoint{ID: id, Protocol: e.ProtocolVersion(), Pending: e.Pending(), Connected: e.Connected()})
	}

	if mt.Matches(textMediaType) {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"ID", "Protocol", "Pending", "Connected"})
		for _, cp := range cps {
			t.AppendRow(table.Row{cp.ID, cp.Protocol, cp.Pending, cp.Connected})
		}
		t.AppendFooter(table.Row{"", "", "Total", len(cps)})
		writeText(w, http.StatusOK, t.Render())
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	mt, ok := s.negotiate(w, r)
	if !ok {
		return
	}

	cpid := r.PathValue("cpid")
	if _, ok := s.registry.Get(cpid); !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("charge point %s is not connected", cpid))
		return
	}

	st, err := handlers.ChargePointState(r.Context(), s.store, cpid)
	if err != nil {
		s.log.ErrorContext(r.Context(), "apiserver.state.fail", slog.String("cpid", cpid), slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to load charge point state")
		return
	}

	if mt.Matches(textMediaType) {
		writeText(w, http.StatusOK, renderState(st))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	cpid, action := r.PathValue("cpid"), r.PathValue("action")
	log := s.log.With(slog.String("cpid", cpid), slog.String("action", action))

	e, ok := s.registry.Get(cpid)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("charge point %s is not connected", cpid))
		return
	}

	var payload json.RawMessage
	if r.ContentLength != 0 {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		if len(body) > 0 && !json.Valid(body) {
			writeJSONError(w, http.StatusBadRequest, "body is not valid JSON")
			return
		}
		payload = body
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.Call(ctx, action, payload)
	if err != nil {
		status, body := callErrorResponse(err)
		log.WarnContext(ctx, "apiserver.call.fail", slog.Int("status", status), slog.String("err", err.Error()))
		writeJSON(w, status, body)
		return
	}

	log.InfoContext(ctx, "apiserver.call.ok", slog.Duration("duration", time.Since(start)))
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res)
}

// callErrorResponse maps an engine.Call failure to an HTTP answer.
func callErrorResponse(err error) (int, any) {
	var ce *engine.CallError
	switch {
	case errors.As(err, &ce):
		return http.StatusBadGateway, CallError{Code: string(ce.Code), Description: ce.Description, Details: ce.Details}
	case errors.Is(err, engine.ErrInvalidPayload), errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, errorBody(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrMalformedResponse):
		return http.StatusBadGateway, errorBody(http.StatusBadGateway, err.Error())
	case errors.Is(err, engine.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody(http.StatusGatewayTimeout, "charge point did not respond in time")
	case errors.Is(err, engine.ErrNotConnected), errors.Is(err, engine.ErrConnectionClosed):
		return http.StatusNotFound, errorBody(http.StatusNotFound, "charge point is not connected")
	default:
		return http.StatusInternalServerError, errorBody(http.StatusInternalServerError, err.Error())
	}
}

// negotiate picks the response media type, answering 406 when nothing fits.
func (s *Server) negotiate(w http.ResponseWriter, r *http.Request) (contenttype.MediaType, bool) {
	if r.Header.Get("Accept") == "" {
		return jsonMediaType, true
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, listMediaTypes)
	if err != nil {
		s.log.WarnContext(r.Context(), "apiserver.accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		writeJSONError(w, http.StatusNotAcceptable, "supported media types are application/json and text/plain")
		return contenttype.MediaType{}, false
	}
	return mt, true
}

func renderState(st *handlers.State) string {
	t := table.NewWriter()
	t.SetTitle("Charge point " + st.CPID)
	t.AppendHeader(table.Row{"Field", "Value"})
	if st.Boot != nil {
		t.AppendRows([]table.Row{
			{"Vendor", st.Boot.Vendor},
			{"Model", st.Boot.Model},
			{"Serial", st.Boot.SerialNumber},
			{"Firmware", st.Boot.FirmwareVersion},
			{"Booted", st.Boot.BootedAt.Format(time.RFC3339)},
		})
	}
	if st.LastHeartbeat != nil {
		t.AppendRow(table.Row{"Last heartbeat", st.LastHeartbeat.Format(time.RFC3339)})
	}

	connectors := make([]int, 0, len(st.Connectors))
	for id := range st.Connectors {
		connectors = append(connectors, id)
	}
	sort.Ints(connectors)
	for _, id := range connectors {
		c := st.Connectors[id]
		t.AppendRow(table.Row{fmt.Sprintf("Connector %d", id), fmt.Sprintf("%s (%s)", c.Status, c.ErrorCode)})
	}
	return t.Render()
}

func errorBody(status int, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"code": status, "message": msg}}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(status, msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, s+"\n")
}
