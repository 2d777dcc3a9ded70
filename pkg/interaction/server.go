package interaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/transport"
	"github.com/regbind/regbind-go/pkg/wire"
)

// Backend serves register accesses for a Server. Implemented by
// sim.Memory.
type Backend interface {
	Name() string
	Cores() int
	Read(ctx context.Context, group string, addr int64, core int) (uint64, error)
	ReadMulti(ctx context.Context, group string, addr int64, count, core int) ([]uint64, error)
	Write(ctx context.Context, group string, addr int64, core int, v uint64) error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Backend Backend

	// MaxMultiCount caps ReadMulti requests. Zero means wire.MaxMultiCount;
	// a negative value disables ReadMulti.
	MaxMultiCount int

	Logger      *slog.Logger
	EventLogger log.Logger
}

// Server answers register requests from a Backend.
type Server struct {
	backend  Backend
	multiMax int
	logger   *slog.Logger
	events   log.Logger
}

// NewServer creates a server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		backend:  cfg.Backend,
		multiMax: cfg.MaxMultiCount,
		logger:   cfg.Logger,
		events:   log.OrNoop(cfg.EventLogger),
	}
	switch {
	case s.multiMax == 0:
		s.multiMax = wire.MaxMultiCount
	case s.multiMax < 0:
		s.multiMax = 0
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// HandleRequest processes a request and returns its response.
func (s *Server) HandleRequest(ctx context.Context, req *wire.Request) *wire.Response {
	core := int(req.Core)
	switch req.Op {
	case wire.OpRead:
		v, err := s.backend.Read(ctx, req.Group, req.Addr, core)
		if err != nil {
			return errorResponse(req.MessageID, err)
		}
		return &wire.Response{MessageID: req.MessageID, Values: []uint64{v}}

	case wire.OpReadMulti:
		if int(req.Count) > s.multiMax {
			return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, "multi-register read not supported for this count")
		}
		vals, err := s.backend.ReadMulti(ctx, req.Group, req.Addr, int(req.Count), core)
		if err != nil {
			return errorResponse(req.MessageID, err)
		}
		return &wire.Response{MessageID: req.MessageID, Values: vals}

	case wire.OpWrite:
		if err := s.backend.Write(ctx, req.Group, req.Addr, core, req.Value); err != nil {
			return errorResponse(req.MessageID, err)
		}
		return &wire.Response{MessageID: req.MessageID}

	case wire.OpInfo:
		return &wire.Response{
			MessageID: req.MessageID,
			Message:   s.backend.Name(),
			Values:    []uint64{uint64(s.backend.Cores()), uint64(s.multiMax)},
		}

	default:
		return wire.NewErrorResponse(req.MessageID, wire.StatusInvalidRequest, "unknown operation")
	}
}

// OnMessage decodes a frame, serves it and sends the response. It has the
// signature of transport.ServerConfig.OnMessage.
func (s *Server) OnMessage(conn *transport.ServerConn, data []byte) {
	s.serve(conn, conn.ConnID(), data)
}

func (s *Server) serve(conn transport.ServerConnection, connID string, data []byte) {
	start := time.Now()
	req, err := wire.DecodeRequest(data)
	if err != nil {
		s.logger.Debug("rejecting request", "connection", connID, "error", err)
		id, _ := wire.PeekMessageID(data)
		if id == 0 {
			return
		}
		s.send(conn, connID, wire.NewErrorResponse(id, wire.StatusInvalidRequest, err.Error()), start)
		return
	}
	s.log(connID, log.DirectionIn, req, nil, nil)

	resp := s.HandleRequest(context.Background(), req)
	if !resp.IsSuccess() {
		s.logger.Debug("request failed", "connection", connID, "op", req.Op, "group", req.Group,
			"addr", req.Addr, "status", resp.Status, "message", resp.Message)
	}
	s.send(conn, connID, resp, start)
}

func (s *Server) send(conn transport.ServerConnection, connID string, resp *wire.Response, start time.Time) {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		return
	}
	elapsed := time.Since(start)
	s.log(connID, log.DirectionOut, nil, resp, &elapsed)
	if err := conn.Send(data); err != nil {
		s.logger.Debug("send response", "connection", connID, "error", err)
	}
}

func (s *Server) log(connID string, dir log.Direction, req *wire.Request, resp *wire.Response, took *time.Duration) {
	s.events.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      messageEvent(req, resp, took),
	})
}

// errorResponse maps a backend error to a failed response. Errors that
// carry a wire status keep it; everything else is a target fault.
func errorResponse(msgID uint32, err error) *wire.Response {
	var sc interface{ WireStatus() wire.Status }
	status := wire.StatusTargetFault
	if errors.As(err, &sc) {
		status = sc.WireStatus()
	}
	return wire.NewErrorResponse(msgID, status, err.Error())
}

func messageEvent(req *wire.Request, resp *wire.Response, took *time.Duration) *log.MessageEvent {
	if req != nil {
		op, addr := req.Op, req.Addr
		return &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: req.MessageID,
			Op:        &op,
			Group:     req.Group,
			Addr:      &addr,
			Count:     req.Count,
		}
	}
	status := resp.Status
	return &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		MessageID:      resp.MessageID,
		Status:         &status,
		Values:         resp.Values,
		ProcessingTime: took,
	}
}
