package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/registry"
)

// urnPrefix is the scheme shared by every handle URN this core issues.
const urnPrefix = "urn:componentd:"

// Handle identifies a constructed component resource instance. Its identity
// is deterministic per (session, token, name), so an engine replaying an
// unchanged Construct request observes the same handle.
type Handle struct {
	URN   string
	Token string
	Name  string
}

// record is the append-only capture of one constructed instance: the state
// returned by the construct handler (nil when construction was skipped in
// preview mode) and the resolved output bag.
type record struct {
	handle  Handle
	state   any
	outputs map[string]cty.Value
}

// Dispatcher owns the server-side computation for Construct and Call
// requests. The registry is read-only; the record store is the only mutable
// state and is guarded by mu.
type Dispatcher struct {
	session string
	reg     *registry.Registry

	mu      sync.RWMutex
	records map[string]*record
}

// New creates a Dispatcher for a fresh session over the given registry.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		session: uuid.NewString(),
		reg:     reg,
		records: make(map[string]*record),
	}
}

// Session returns the dispatcher's session identifier. Handles embed it;
// handles from any other session are rejected.
func (d *Dispatcher) Session() string {
	return d.session
}

// newHandle derives the deterministic handle for a (token, name) pair.
func (d *Dispatcher) newHandle(token, name string) Handle {
	return Handle{
		URN:   fmt.Sprintf("%s%s::%s::%s", urnPrefix, d.session, token, name),
		Token: token,
		Name:  name,
	}
}

// lookup resolves a URN to its record, enforcing session ownership and
// construct completion.
func (d *Dispatcher) lookup(urn string) (*record, error) {
	if !strings.HasPrefix(urn, urnPrefix+d.session+"::") {
		return nil, &InvalidHandleError{URN: urn, Reason: "handle was not issued in this session"}
	}
	d.mu.RLock()
	rec, ok := d.records[urn]
	d.mu.RUnlock()
	if !ok {
		return nil, &InvalidHandleError{URN: urn, Reason: "no constructed resource for this handle"}
	}
	return rec, nil
}

// Drop removes a handle's record, modeling an engine-initiated destroy. Any
// later Call against the handle fails with InvalidHandleError; records of
// other handles are unaffected.
func (d *Dispatcher) Drop(urn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[urn]; !ok {
		return &InvalidHandleError{URN: urn, Reason: "no constructed resource for this handle"}
	}
	delete(d.records, urn)
	return nil
}

// Outputs returns a copy of the captured construction output bag for a
// handle. Marks (secrecy, dependencies) are preserved.
func (d *Dispatcher) Outputs(urn string) (map[string]cty.Value, error) {
	rec, err := d.lookup(urn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]cty.Value, len(rec.outputs))
	for k, v := range rec.outputs {
		out[k] = v
	}
	return out, nil
}
