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
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gopcua/opcua/ua"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

const closeTimeout = 5 * time.Second

// Connect replaces any existing session with a new one. A timeout of zero uses
// DefaultConnectTimeout. With keepAlive the client reconnects on its own whenever a
// heartbeat reports a bad status.
func (c *Client) Connect(ctx context.Context, timeout time.Duration, keepAlive bool) error {
	if err := c.Disconnect(ctx); err != nil {
		c.sessionLog.Debugf("Closing previous session failed: %v", err)
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.sessionLog.Infof("Connecting to %s", c.cfg.Endpoint)
	s, err := c.dialer.Dial(ctx, engine.DialParams{Timeout: timeout})
	if err != nil {
		return &ServerConnectionError{Endpoint: c.cfg.Endpoint, Err: err}
	}
	if !s.Connected() {
		closeQuietly(s)
		return &ServerConnectionError{Endpoint: c.cfg.Endpoint}
	}

	c.mu.Lock()
	previous := c.session
	c.session = s
	c.keepAlive = keepAlive
	c.connectTimeout = timeout
	c.transition(EventConnect)
	c.mu.Unlock()

	// a concurrent Connect finished between our Disconnect and now
	if previous != nil {
		closeQuietly(previous)
	}

	if keepAlive {
		c.watch(s)
	}
	c.sessionLog.Infof("Connected to %s", c.cfg.Endpoint)
	return nil
}

// ConnectAsync runs Connect on its own goroutine.
func (c *Client) ConnectAsync(ctx context.Context, timeout time.Duration, keepAlive bool) <-chan error {
	return goErr(func() error { return c.Connect(ctx, timeout, keepAlive) })
}

// Disconnect deletes all subscriptions, ignoring failures, then closes the session.
// It is a no-op without a session and stops a reconnect in progress.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	subs := c.subs
	c.session = nil
	c.subs = nil
	c.keepAlive = false
	c.reconnecting = false
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	if s != nil {
		c.transition(EventDisconnect)
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	for _, sub := range subs {
		if err := sub.delete(ctx); err != nil {
			c.monitorLog.Debugf("Deleting subscription for %s failed: %v", sub.item.Address, err)
		}
	}

	if err := s.Close(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	c.sessionLog.Infof("Disconnected from %s", c.cfg.Endpoint)
	return nil
}

// DisconnectAsync runs Disconnect on its own goroutine.
func (c *Client) DisconnectAsync(ctx context.Context) <-chan error {
	return goErr(func() error { return c.Disconnect(ctx) })
}

// IsConnected reports whether a session exists and its transport is alive.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	return s != nil && s.Connected()
}

func (c *Client) currentSession() (engine.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Client) watch(s engine.Session) {
	s.OnKeepAlive(func(status ua.StatusCode) {
		c.onKeepAlive(s, status)
	})
}

// onKeepAlive starts at most one reconnect loop per lost session.
func (c *Client) onKeepAlive(sender engine.Session, status ua.StatusCode) {
	defer func() {
		if r := recover(); r != nil {
			c.sessionLog.Errorf("Keep-alive handling failed: %v", r)
		}
	}()

	if QualityOf(status) != QualityBad {
		return
	}
	keepAliveFailuresTotal.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.keepAlive || c.session != sender || c.reconnecting {
		return
	}

	// a restore still running for the lost session is abandoned
	if c.cancelReconnect != nil {
		c.cancelReconnect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnecting = true
	c.cancelReconnect = cancel
	c.reconnectGen++
	c.transition(EventConnectionLost)
	c.sessionLog.Warnf("Keep-alive reported %v, reconnecting to %s every %s", status, c.cfg.Endpoint, c.cfg.ReconnectPeriod)

	go c.reconnect(ctx, cancel, c.reconnectGen, sender, c.connectTimeout)
}

// reconnect dials until a session comes up or ctx is cancelled by Disconnect,
// then restores the subscriptions under the same ctx.
func (c *Client) reconnect(ctx context.Context, cancel context.CancelFunc, gen uint64, lost engine.Session, timeout time.Duration) {
	defer c.finishReconnect(cancel, gen)

	wait := time.NewTimer(c.cfg.ReconnectPeriod)
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return
	case <-wait.C:
	}

	var next engine.Session
	op := func() error {
		reconnectAttemptsTotal.Inc()
		s, err := c.dialer.Dial(ctx, engine.DialParams{Timeout: timeout})
		if err != nil {
			return err
		}
		if !s.Connected() {
			closeQuietly(s)
			return errors.New("new session is not connected")
		}
		next = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.sessionLog.Warnf("Reconnect to %s failed, retrying in %s: %v", c.cfg.Endpoint, wait, err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.reconnectBackOff(), ctx), notify); err != nil {
		c.sessionLog.Debugf("Reconnect to %s stopped: %v", c.cfg.Endpoint, err)
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil || c.session != lost {
		c.mu.Unlock()
		closeQuietly(next)
		return
	}
	c.session = next
	c.reconnecting = false
	subs := append([]*subscription(nil), c.subs...)
	c.transition(EventReconnected)
	c.mu.Unlock()

	c.sessionLog.Infof("Reconnected to %s", c.cfg.Endpoint)
	c.watch(next)
	closeQuietly(lost)
	c.restoreSubscriptions(ctx, next, subs, timeout)
}

// finishReconnect releases the reconnect context unless a newer loop owns the marker.
func (c *Client) finishReconnect(cancel context.CancelFunc, gen uint64) {
	c.mu.Lock()
	if c.reconnectGen == gen {
		c.cancelReconnect = nil
	}
	c.mu.Unlock()
	cancel()
}

func closeQuietly(s engine.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = s.Close(ctx)
}
