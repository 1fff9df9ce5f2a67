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

// Package uaclient is a tag oriented OPC UA client: sessions with keep-alive driven
// reconnection, a Device/Group/Tag view of the address space, batched reads and
// writes with per-item status, and change monitoring.
package uaclient

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/opcua-tag-client/pkg/logger"
	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

// Client talks to one OPC UA server. It is safe for concurrent use.
type Client struct {
	cfg    Config
	dialer engine.Dialer

	sessionLog *zap.SugaredLogger
	browseLog  *zap.SugaredLogger
	ioLog      *zap.SugaredLogger
	monitorLog *zap.SugaredLogger

	// mu guards the session handle, the reconnect marker and the subscription set.
	mu              sync.Mutex
	session         engine.Session
	keepAlive       bool
	connectTimeout  time.Duration
	reconnecting    bool
	cancelReconnect func()
	reconnectGen    uint64
	subs            []*subscription
	state           *fsm.FSM

	nextHandle atomic.Uint32
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger derives all component loggers from l.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.sessionLog = l.Named(logger.ComponentSession)
		c.browseLog = l.Named(logger.ComponentBrowser)
		c.ioLog = l.Named(logger.ComponentTagIO)
		c.monitorLog = l.Named(logger.ComponentMonitor)
	}
}

// WithDialer replaces the gopcua engine.
func WithDialer(d engine.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New validates cfg and builds a disconnected client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		sessionLog: logger.For(logger.ComponentSession),
		browseLog:  logger.For(logger.ComponentBrowser),
		ioLog:      logger.For(logger.ComponentTagIO),
		monitorLog: logger.For(logger.ComponentMonitor),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = engine.NewDialer(cfg.engineOptions(), logger.For(logger.ComponentEngine))
	}
	c.state = newSessionFSM(c.sessionLog)
	return c, nil
}

// Config returns the effective configuration with defaults applied.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) reconnectBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(c.cfg.ReconnectPeriod)
}
