// Package connection turns accepted connections into pool jobs that read one
// request line, resolve it, and write exactly one response.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/poolhttpd/internal/id"
	"github.com/JakeFAU/poolhttpd/internal/metrics"
	"github.com/JakeFAU/poolhttpd/internal/response"
	"github.com/JakeFAU/poolhttpd/internal/route"
	"github.com/JakeFAU/poolhttpd/internal/storage"
	"github.com/JakeFAU/poolhttpd/internal/worker"
)

const (
	tracerName          = "github.com/JakeFAU/poolhttpd/internal/connection"
	defaultMaxLineBytes = 8 << 10
	maxLingerDrainBytes = 64 << 10
)

var (
	errEmptyRequest = errors.New("empty request line")
	errLineTooLong  = errors.New("request line too long")
)

// Config controls request reading.
//   - MaxLineBytes: upper bound on the request line, newline included (default 8 KiB).
//   - LingerTimeout: how long to drain unread input after the response is
//     written so the close does not reset the connection (0 disables).
//   - BaseContext: context handed to the resource store (defaults to context.Background()).
//   - Tracer: span source for served connections (defaults to the global provider).
type Config struct {
	MaxLineBytes  int
	LingerTimeout time.Duration
	BaseContext   context.Context
	Tracer        trace.Tracer
}

// Handler builds one Job per accepted connection. It holds no mutable state
// and is safe to share between goroutines.
type Handler struct {
	routes       route.Table
	store        storage.Provider
	maxLineBytes int
	linger       time.Duration
	baseCtx      context.Context
	tracer       trace.Tracer
	logger       *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, routes route.Table, store storage.Provider, logger *zap.Logger) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("resource store is required")
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Handler{
		routes:       routes,
		store:        store,
		maxLineBytes: cfg.MaxLineBytes,
		linger:       cfg.LingerTimeout,
		baseCtx:      cfg.BaseContext,
		tracer:       cfg.Tracer,
		logger:       logger,
	}, nil
}

// Job wraps conn into a pool job. The job owns conn and always closes it.
func (h *Handler) Job(conn net.Conn) worker.Job {
	return func() {
		h.serve(conn)
	}
}

func (h *Handler) serve(conn net.Conn) {
	start := time.Now()
	requestID := id.New()
	ctx, span := h.tracer.Start(h.baseCtx, "connection.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("net.peer.addr", remoteAddr(conn)),
		),
	)
	defer span.End()
	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("remote_addr", remoteAddr(conn)),
	)
	defer func() {
		h.drain(conn)
		if err := conn.Close(); err != nil {
			logger.Debug("close connection failed", zap.Error(err))
		}
	}()

	var resp response.Response
	line, err := readRequestLine(conn, h.maxLineBytes)
	if err != nil {
		logger.Debug("unreadable request line", zap.Error(err))
		resp = response.New(response.BadRequest, nil)
	} else {
		resp = h.resolve(ctx, line, logger)
	}

	code := resp.Status().Code()
	span.SetAttributes(attribute.Int("http.response.status_code", code))
	if code >= 500 {
		span.SetStatus(codes.Error, resp.Status().String())
	}
	if _, err := resp.WriteTo(conn); err != nil {
		span.RecordError(err)
		logger.Warn("write response failed", zap.Error(err))
	}
	elapsed := time.Since(start)
	metrics.ObserveResponse(code, elapsed)
	logger.Debug("connection served",
		zap.String("status", resp.Status().String()),
		zap.Duration("duration", elapsed),
	)
}

// Resolve maps a request line to its response.
func (h *Handler) Resolve(line string) response.Response {
	return h.resolve(h.baseCtx, line, h.logger)
}

func (h *Handler) resolve(ctx context.Context, line string, logger *zap.Logger) response.Response {
	req, err := route.ParseRequestLine(line)
	if err != nil {
		return response.New(response.BadRequest, nil)
	}
	name, ok := h.routes.Lookup(req)
	if !ok {
		return response.New(response.NotFound, nil)
	}
	body, err := h.store.Read(ctx, name)
	if err != nil {
		logger.Error("read resource failed", zap.String("resource", name), zap.Error(err))
		return response.New(response.InternalServerError, nil)
	}
	return response.New(response.OK, body)
}

// drain half-closes the write side and discards pending input for at most
// the linger timeout. Closing a socket with unread data makes the kernel send
// a reset, which can destroy the response before the peer reads it.
func (h *Handler) drain(conn net.Conn) {
	if h.linger <= 0 {
		return
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return
		}
	}
	if err := conn.SetReadDeadline(time.Now().Add(h.linger)); err != nil {
		return
	}
	_, _ = io.CopyN(io.Discard, conn, maxLingerDrainBytes)
}

// readRequestLine reads up to the first newline. A final line without a
// newline is accepted when the peer closes its side.
func readRequestLine(r io.Reader, maxBytes int) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(maxBytes)+1))
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read request line: %w", err)
	}
	if len(line) > maxBytes {
		return "", errLineTooLong
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", errEmptyRequest
	}
	return line, nil
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
