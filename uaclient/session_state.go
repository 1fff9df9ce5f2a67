// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Session states
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

// Session events
const (
	EventConnect        = "connect"
	EventConnectionLost = "connection_lost"
	EventReconnected    = "reconnected"
	EventDisconnect     = "disconnect"
)

func newSessionFSM(log *zap.SugaredLogger) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateDisconnected, StateConnected}, Dst: StateConnected},
			{Name: EventConnectionLost, Src: []string{StateConnected}, Dst: StateReconnecting},
			{Name: EventReconnected, Src: []string{StateReconnecting}, Dst: StateConnected},
			{Name: EventDisconnect, Src: []string{StateConnected, StateReconnecting}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("Session %s -> %s on %s", e.Src, e.Dst, e.Event)
			},
		},
	)
}

// State returns the current session state.
func (c *Client) State() string {
	return c.state.Current()
}

// transition fires a state machine event. Must be called with c.mu held.
func (c *Client) transition(event string) {
	err := c.state.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	c.sessionLog.Debugf("Ignoring session event %s in state %s: %v", event, c.state.Current(), err)
}
