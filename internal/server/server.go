// Package server is the transport shim for the protocol core: a
// request/response loop carrying msgpack-framed Request/Response envelopes
// over any byte stream. Session bootstrap and connection management beyond
// accept/serve stay with the external engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/broker"
	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/dispatch"
	"github.com/vk/componentd/internal/wire"
)

// Server drives a Broker from decoded transport envelopes.
type Server struct {
	broker *broker.Broker
}

// New creates a Server over the given broker.
func New(b *broker.Broker) *Server {
	return &Server{broker: b}
}

// Serve accepts connections and serves each on its own goroutine until the
// context is canceled or the listener fails. Requests for different
// resources may arrive on different connections concurrently; the registry
// is read-only and the handle store is internally synchronized.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := ctxlog.FromContext(ctx)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		logger.Debug("Connection accepted.", "remote", conn.RemoteAddr())
		go func() {
			defer conn.Close()
			if err := s.ServeConn(ctx, conn); err != nil {
				logger.Error("Connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// ServeConn runs the request/response loop on a single byte stream until EOF
// or context cancellation. Each request is one synchronous exchange; no
// partial results are yielded mid-computation.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriter) error {
	logger := ctxlog.FromContext(ctx)
	dec := msgpack.NewDecoder(rw)
	enc := msgpack.NewEncoder(rw)

	for {
		if ctx.Err() != nil {
			return nil
		}

		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("failed to decode request envelope: %w", err)
		}

		resp := s.handle(ctx, &req)
		logger.Debug("Request handled.", "id", req.ID, "kind", req.Kind, "failed", resp.Error != nil)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response envelope: %w", err)
		}
	}
}

// handle maps one request envelope onto the broker surface. A panic while
// handling one request fails that request, not the connection.
func (s *Server) handle(ctx context.Context, req *Request) (resp *Response) {
	resp = &Response{ID: req.ID}
	defer func() {
		if r := recover(); r != nil {
			resp.Error = &WireError{Code: CodeInternal, Message: fmt.Sprintf("internal failure handling request: %v", r)}
		}
	}()

	switch req.Kind {
	case KindConstruct:
		inputs, err := decodeBag(req.Inputs)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		handle, err := s.broker.Construct(ctx, dispatch.ConstructRequest{
			Token:   req.Token,
			Name:    req.Name,
			Inputs:  inputs,
			Preview: req.Preview,
		})
		resp.Handle = handle.URN
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}

	case KindCall:
		args, err := decodeBag(req.Inputs)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		callID, err := s.broker.Call(ctx, dispatch.Handle{URN: req.Handle}, req.Method, args, req.Preview)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.CallID = callID

	case KindAwaitOutput:
		v, err := s.broker.AwaitOutput(dispatch.Handle{URN: req.Handle}, req.Field)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		raw, err := wire.Encode(v)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Value = raw

	case KindAwaitCall:
		v, err := s.broker.AwaitCallResult(req.CallID, req.Field)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		raw, err := wire.Encode(v)
		if err != nil {
			resp.Error = toWireError(err)
			return resp
		}
		resp.Value = raw

	case KindDrop:
		if err := s.broker.Drop(dispatch.Handle{URN: req.Handle}); err != nil {
			resp.Error = toWireError(err)
			return resp
		}

	default:
		resp.Error = &WireError{Code: CodeInternal, Message: fmt.Sprintf("unrecognized request kind %q", req.Kind)}
	}

	return resp
}

// decodeBag tolerates an absent bag, which stands for no properties.
func decodeBag(raw []byte) (map[string]cty.Value, error) {
	if len(raw) == 0 {
		return map[string]cty.Value{}, nil
	}
	return wire.DecodeBag(raw)
}
