// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codyaverett/mcp-agent/internal/protocol"
)

// Reply is a canned answer for one phase.
type Reply struct {
	Env *protocol.Envelope
	Err error
}

// Fake answers commands from per-phase replies and records every command it
// receives. A phase without a reply fails the call with an error.
type Fake struct {
	mu       sync.Mutex
	replies  map[string]Reply
	commands []protocol.Command
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{replies: make(map[string]Reply)}
}

// On sets the reply for phase.
func (f *Fake) On(phase string, r Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[phase] = r
	return f
}

// OK replies to phase with a successful envelope carrying data, which is
// marshalled unless it is already a json.RawMessage.
func (f *Fake) OK(phase string, data any) *Fake {
	return f.On(phase, Reply{Env: Success(data)})
}

// Fail replies to phase with a backend-reported failure.
func (f *Fake) Fail(phase, message string) *Fake {
	return f.On(phase, Reply{Env: &protocol.Envelope{Error: &protocol.ErrorInfo{Message: message}}})
}

func (f *Fake) Execute(_ context.Context, cmd protocol.Command) (*protocol.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	r, ok := f.replies[cmd.Phase]
	if !ok {
		return nil, &protocol.TransportError{Command: cmd.String(), Err: fmt.Errorf("no reply scripted for %s", cmd.Phase)}
	}
	return r.Env, r.Err
}

// Commands returns the commands received so far, in order.
func (f *Fake) Commands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Command(nil), f.commands...)
}

// Phases returns the phase of each received command, in order.
func (f *Fake) Phases() []string {
	cmds := f.Commands()
	phases := make([]string, len(cmds))
	for i, c := range cmds {
		phases[i] = c.Phase
	}
	return phases
}

// Success builds a successful envelope around data.
func Success(data any) *protocol.Envelope {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			panic(err)
		}
		raw = b
	}
	return &protocol.Envelope{Success: true, Data: raw}
}
