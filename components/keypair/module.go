// Package keypair is a built-in component that derives a deterministic
// credential pair from a user name and a secret seed. It exists mostly as a
// reference implementation of the component handler contract.
package keypair

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/vk/componentd/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// ConstructArgs defines the inputs for the keypair component.
type ConstructArgs struct {
	User   string `compo:"user"`
	Seed   string `compo:"seed"`
	Length int    `compo:"length"`
}

// Keypair is the component state. Tagged fields are the construction
// outputs; the seed stays private to the instance.
type Keypair struct {
	Username string `compo:"username"`
	Token    string `compo:"token"`

	seed string
}

// SignArgs defines the arguments of the sign method.
type SignArgs struct {
	Payload string `compo:"payload"`
}

// SignResult defines the result bag of the sign method.
type SignResult struct {
	Signature string `compo:"signature"`
}

// OnConstructKeypair is the construct handler. The token is a deterministic
// function of (user, seed), so replayed constructions resolve identically.
func OnConstructKeypair(ctx context.Context, args *ConstructArgs) (any, error) {
	if args.User == "" {
		return nil, fmt.Errorf("user must not be empty")
	}
	length := args.Length
	if length <= 0 || length > sha256.Size*2 {
		return nil, fmt.Errorf("length must be between 1 and %d, got %d", sha256.Size*2, length)
	}

	sum := sha256.Sum256([]byte(args.User + ":" + args.Seed))
	return &Keypair{
		Username: args.User,
		Token:    hex.EncodeToString(sum[:])[:length],
		seed:     args.Seed,
	}, nil
}

// OnSignKeypair is the handler for the 'sign' method: an HMAC over the
// payload keyed by the instance seed.
func OnSignKeypair(ctx context.Context, kp *Keypair, args *SignArgs) (any, error) {
	mac := hmac.New(sha256.New, []byte(kp.seed))
	mac.Write([]byte(args.Payload))
	return &SignResult{Signature: hex.EncodeToString(mac.Sum(nil))}, nil
}

// Register registers the handlers with the provider.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConstructor("OnConstructKeypair", &registry.RegisteredConstructor{
		NewArgs:  func() any { return new(ConstructArgs) },
		ArgsType: reflect.TypeOf(ConstructArgs{}),
		Fn:       OnConstructKeypair,
	})
	r.RegisterMethod("OnSignKeypair", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(SignArgs) },
		ArgsType: reflect.TypeOf(SignArgs{}),
		Fn:       OnSignKeypair,
	})
}
