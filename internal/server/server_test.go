package server

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/broker"
	"github.com/vk/componentd/internal/dispatch"
	"github.com/vk/componentd/internal/manifest"
	"github.com/vk/componentd/internal/registry"
	"github.com/vk/componentd/internal/wire"
)

const counterManifest = `
component "test:index:Counter" {
	lifecycle { construct = "OnConstructCounter" }

	input "start" { type = number }

	output "count" { type = number }

	method "bump" {
		handler = "OnBumpCounter"

		input "by" { type = number }

		output "count" { type = number }
	}
}`

type counterArgs struct {
	Start int `compo:"start"`
}

type counterState struct {
	Count int `compo:"count"`
}

type bumpArgs struct {
	By int `compo:"by"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	reg := registry.New()
	reg.RegisterConstructor("OnConstructCounter", &registry.RegisteredConstructor{
		NewArgs:  func() any { return new(counterArgs) },
		ArgsType: reflect.TypeOf(counterArgs{}),
		Fn: func(ctx context.Context, args *counterArgs) (any, error) {
			return &counterState{Count: args.Start}, nil
		},
	})
	reg.RegisterMethod("OnBumpCounter", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(bumpArgs) },
		ArgsType: reflect.TypeOf(bumpArgs{}),
		Fn: func(ctx context.Context, s *counterState, args *bumpArgs) (any, error) {
			s.Count += args.By
			return &counterState{Count: s.Count}, nil
		},
	})

	model, err := manifest.ParseSources(context.Background(), map[string]string{"counter.hcl": counterManifest})
	require.NoError(t, err)
	reg.PopulateDefinitionsFromModel(model)
	require.NoError(t, reg.ValidateRegistry(context.Background()))

	return New(broker.New(dispatch.New(reg)))
}

// testConn runs ServeConn over one side of an in-memory pipe and returns a
// client for the other side. Closing the client ends the loop cleanly.
type testConn struct {
	conn net.Conn
	enc  *msgpack.Encoder
	dec  *msgpack.Decoder
	done chan error
}

func dialTestServer(t *testing.T, s *Server) *testConn {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- s.ServeConn(context.Background(), serverSide)
	}()

	tc := &testConn{
		conn: clientSide,
		enc:  msgpack.NewEncoder(clientSide),
		dec:  msgpack.NewDecoder(clientSide),
		done: done,
	}
	t.Cleanup(func() {
		clientSide.Close()
		select {
		case err := <-done:
			require.NoError(t, err, "server loop should end cleanly on client close")
		case <-time.After(5 * time.Second):
			t.Fatal("server loop did not exit")
		}
	})
	return tc
}

func (c *testConn) exchange(t *testing.T, req *Request) *Response {
	t.Helper()
	require.NoError(t, c.enc.Encode(req))
	var resp Response
	require.NoError(t, c.dec.Decode(&resp))
	require.Equal(t, req.ID, resp.ID, "responses echo the request ID")
	return &resp
}

func encodeBag(t *testing.T, bag map[string]cty.Value) []byte {
	t.Helper()
	raw, err := wire.EncodeBag(bag)
	require.NoError(t, err)
	return raw
}

func TestServeConn(t *testing.T) {
	t.Parallel()

	t.Run("Success: Full construct, call, await, drop round trip", func(t *testing.T) {
		t.Parallel()
		tc := dialTestServer(t, newTestServer(t))

		resp := tc.exchange(t, &Request{
			ID:     "1",
			Kind:   KindConstruct,
			Token:  "test:index:Counter",
			Name:   "main",
			Inputs: encodeBag(t, map[string]cty.Value{"start": cty.NumberIntVal(5)}),
		})
		require.Nil(t, resp.Error)
		require.NotEmpty(t, resp.Handle)
		handle := resp.Handle

		resp = tc.exchange(t, &Request{ID: "2", Kind: KindAwaitOutput, Handle: handle, Field: "count"})
		require.Nil(t, resp.Error)
		v, err := wire.Decode(resp.Value)
		require.NoError(t, err)
		unmarked, _ := v.Unmark()
		require.True(t, unmarked.RawEquals(cty.NumberIntVal(5)))

		resp = tc.exchange(t, &Request{
			ID:     "3",
			Kind:   KindCall,
			Handle: handle,
			Method: "bump",
			Inputs: encodeBag(t, map[string]cty.Value{"by": cty.NumberIntVal(3)}),
		})
		require.Nil(t, resp.Error)
		require.NotEmpty(t, resp.CallID)

		resp = tc.exchange(t, &Request{ID: "4", Kind: KindAwaitCall, CallID: resp.CallID, Field: "count"})
		require.Nil(t, resp.Error)
		v, err = wire.Decode(resp.Value)
		require.NoError(t, err)
		unmarked, _ = v.Unmark()
		require.True(t, unmarked.RawEquals(cty.NumberIntVal(8)))

		resp = tc.exchange(t, &Request{ID: "5", Kind: KindDrop, Handle: handle})
		require.Nil(t, resp.Error)

		resp = tc.exchange(t, &Request{
			ID:     "6",
			Kind:   KindCall,
			Handle: handle,
			Method: "bump",
			Inputs: encodeBag(t, map[string]cty.Value{"by": cty.NumberIntVal(1)}),
		})
		require.NotNil(t, resp.Error)
		require.Equal(t, CodeInvalidHandle, resp.Error.Code)
	})

	t.Run("Failure: Error kinds map to stable codes", func(t *testing.T) {
		t.Parallel()
		tc := dialTestServer(t, newTestServer(t))

		resp := tc.exchange(t, &Request{ID: "1", Kind: KindConstruct, Token: "test:index:Nope", Name: "x"})
		require.NotNil(t, resp.Error)
		require.Equal(t, CodeUnregisteredType, resp.Error.Code)

		resp = tc.exchange(t, &Request{
			ID:    "2",
			Kind:  KindConstruct,
			Token: "test:index:Counter",
			Name:  "bad",
			Inputs: encodeBag(t, map[string]cty.Value{
				"start": cty.StringVal("lots"),
				"extra": cty.True,
			}),
		})
		require.NotNil(t, resp.Error)
		require.Equal(t, CodeInputValidation, resp.Error.Code)
		props := make(map[string]string, len(resp.Error.Properties))
		for _, p := range resp.Error.Properties {
			props[p.Property] = p.Reason
		}
		require.Contains(t, props, "extra")
		require.Contains(t, props, "start")

		resp = tc.exchange(t, &Request{
			ID:     "3",
			Kind:   KindConstruct,
			Token:  "test:index:Counter",
			Name:   "garbled",
			Inputs: []byte{0xde, 0xad, 0xbe, 0xef},
		})
		require.NotNil(t, resp.Error)
		require.Equal(t, CodeMalformedValue, resp.Error.Code)

		resp = tc.exchange(t, &Request{ID: "4", Kind: RequestKind("teleport")})
		require.NotNil(t, resp.Error)
		require.Equal(t, CodeInternal, resp.Error.Code)
	})

	t.Run("Success: Construct replay over the transport observes one identity", func(t *testing.T) {
		t.Parallel()
		tc := dialTestServer(t, newTestServer(t))

		inputs := encodeBag(t, map[string]cty.Value{"start": cty.NumberIntVal(1)})
		first := tc.exchange(t, &Request{ID: "1", Kind: KindConstruct, Token: "test:index:Counter", Name: "same", Inputs: inputs})
		require.Nil(t, first.Error)
		second := tc.exchange(t, &Request{ID: "2", Kind: KindConstruct, Token: "test:index:Counter", Name: "same", Inputs: inputs})
		require.Nil(t, second.Error)
		require.Equal(t, first.Handle, second.Handle)
	})
}

func TestServe_Listener(t *testing.T) {
	t.Parallel()

	t.Run("Success: Serves TCP connections until canceled", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t)

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx, ln) }()

		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer conn.Close()

		enc := msgpack.NewEncoder(conn)
		dec := msgpack.NewDecoder(conn)
		require.NoError(t, enc.Encode(&Request{
			ID:     "1",
			Kind:   KindConstruct,
			Token:  "test:index:Counter",
			Name:   "tcp",
			Inputs: encodeBag(t, map[string]cty.Value{"start": cty.NumberIntVal(2)}),
		}))
		var resp Response
		require.NoError(t, dec.Decode(&resp))
		require.Nil(t, resp.Error)
		require.NotEmpty(t, resp.Handle)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after cancellation")
		}
	})
}

func TestWireErrorMapping(t *testing.T) {
	t.Parallel()

	t.Run("Success: Each structured error maps to its code", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			err  error
			code string
		}{
			{&wire.MalformedValueError{Reason: "x"}, CodeMalformedValue},
			{&dispatch.UnregisteredTypeError{Token: "t"}, CodeUnregisteredType},
			{&dispatch.UnknownMethodError{Token: "t", Method: "m"}, CodeUnknownMethod},
			{&dispatch.InvalidHandleError{URN: "u", Reason: "r"}, CodeInvalidHandle},
			{&dispatch.ValidationError{Failures: []dispatch.PropertyFailure{{Property: "p", Reason: "r"}}}, CodeInputValidation},
			{&dispatch.PartialError{Field: "f", Cause: errors.New("c")}, CodePartialFailure},
			{&dispatch.MethodError{Op: "m", Cause: errors.New("c")}, CodeMethodFailure},
			{errors.New("anything else"), CodeInternal},
		}
		for _, tc := range cases {
			we := toWireError(tc.err)
			require.Equal(t, tc.code, we.Code, "error %v", tc.err)
		}

		we := toWireError(&dispatch.ValidationError{Failures: []dispatch.PropertyFailure{{Property: "p", Reason: "r"}}})
		require.Len(t, we.Properties, 1)
		require.Equal(t, "p", we.Properties[0].Property)

		we = toWireError(&dispatch.PartialError{Field: "f", Cause: errors.New("c")})
		require.Equal(t, "f", we.Field)
	})
}
