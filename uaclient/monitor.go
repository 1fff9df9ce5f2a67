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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

var errSessionReplaced = errors.New("session was replaced")

// Subscription settings used for every Monitor call
const (
	subscriptionPriority           = 1
	subscriptionKeepAliveCount     = 10
	subscriptionLifetimeCount      = 20
	subscriptionMaxNotifications   = 1000
	monitoredItemQueueSize         = 1
	defaultMonitorSamplingInterval = time.Second
)

// MonitorFunc is called for every change of a monitored tag.
type MonitorFunc func(item *MonitoredItem, tag Tag)

// MonitoredItem is the handle of one Monitor registration.
type MonitoredItem struct {
	ID        string
	Address   string
	Namespace uint16
	Interval  time.Duration
	// Context is the value passed to Monitor, handed back on every callback.
	Context any

	handle   uint32
	callback MonitorFunc
}

// subscription ties a MonitoredItem to the server-side subscription serving it.
// The engine subscription is replaced after a reconnect.
type subscription struct {
	item *MonitoredItem

	mu  sync.Mutex
	eng engine.Subscription
}

// set installs eng and returns the subscription it replaces.
func (s *subscription) set(eng engine.Subscription) engine.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.eng
	s.eng = eng
	return old
}

func (s *subscription) delete(ctx context.Context) error {
	s.mu.Lock()
	eng := s.eng
	s.eng = nil
	s.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Delete(ctx)
}

func (s *subscription) notify(handle uint32, dv *ua.DataValue) {
	if handle != s.item.handle {
		return
	}
	ref := NodeRef{Address: s.item.Address, Namespace: s.item.Namespace}
	s.item.callback(s.item, tagFromDataValue(ref, dv))
}

// Monitor creates a subscription with one monitored item on address and calls
// callback on every change, passing userCtx back through MonitoredItem.Context.
// The subscription lives until Disconnect and is re-created after a reconnect.
func (c *Client) Monitor(ctx context.Context, address string, interval time.Duration, ns uint16, callback MonitorFunc, userCtx any) (*MonitoredItem, error) {
	if callback == nil {
		return nil, errors.New("monitor callback must not be nil")
	}
	if interval <= 0 {
		interval = defaultMonitorSamplingInterval
	}

	s, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	item := &MonitoredItem{
		ID:        uuid.NewString(),
		Address:   address,
		Namespace: ns,
		Interval:  interval,
		Context:   userCtx,
		handle:    c.nextHandle.Add(1),
		callback:  callback,
	}
	sub := &subscription{item: item}

	eng, err := c.openSubscription(ctx, s, sub)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		_ = eng.Delete(ctx)
		return nil, ErrNotConnected
	}
	sub.set(eng)
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.monitorLog.Debugf("Monitoring %s (ns=%d) every %s as %s", address, ns, interval, item.ID)
	return item, nil
}

func subscriptionParamsFor(interval time.Duration) engine.SubscriptionParams {
	return engine.SubscriptionParams{
		PublishingInterval:         interval,
		LifetimeCount:              subscriptionLifetimeCount,
		MaxKeepAliveCount:          subscriptionKeepAliveCount,
		MaxNotificationsPerPublish: subscriptionMaxNotifications,
		Priority:                   subscriptionPriority,
	}
}

func (c *Client) openSubscription(ctx context.Context, s engine.Session, sub *subscription) (engine.Subscription, error) {
	item := sub.item
	nodeID := NodeRef{Address: item.Address, Namespace: item.Namespace}.NodeID()

	eng, err := s.Subscribe(ctx, subscriptionParamsFor(item.Interval), sub.notify)
	if err != nil {
		var code ua.StatusCode
		if errors.As(err, &code) {
			RecordSubscriptionFailure(code, nodeID.String())
		}
		return nil, fmt.Errorf("create subscription for %s: %w", item.Address, err)
	}

	statuses, err := eng.Monitor(ctx, engine.MonitorItem{
		NodeID:           nodeID,
		ClientHandle:     item.handle,
		SamplingInterval: item.Interval,
		QueueSize:        monitoredItemQueueSize,
	})
	if err == nil && len(statuses) != 1 {
		err = fmt.Errorf("got %d results for one item", len(statuses))
	}
	if err == nil && QualityOf(statuses[0]) == QualityBad {
		RecordSubscriptionFailure(statuses[0], nodeID.String())
		err = statuses[0]
	}
	if err != nil {
		if derr := eng.Delete(ctx); derr != nil {
			c.monitorLog.Debugf("Deleting failed subscription %d: %v", eng.ID(), derr)
		}
		return nil, fmt.Errorf("monitor %s: %w", item.Address, err)
	}
	return eng, nil
}

// restoreSubscriptions re-creates the registrations on a fresh session. Each one is
// retried every ReconnectPeriod until it succeeds, the session is replaced or ctx ends.
func (c *Client) restoreSubscriptions(ctx context.Context, s engine.Session, subs []*subscription, timeout time.Duration) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			c.restoreSubscription(ctx, s, sub, timeout)
		}(sub)
	}
	wg.Wait()
}

func (c *Client) restoreSubscription(ctx context.Context, s engine.Session, sub *subscription, timeout time.Duration) {
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		eng, err := c.openSubscription(attemptCtx, s, sub)
		if err != nil {
			return err
		}

		var old engine.Subscription
		c.mu.Lock()
		stale := c.session != s
		if !stale {
			old = sub.set(eng)
		}
		c.mu.Unlock()

		if stale {
			_ = eng.Delete(attemptCtx)
			return backoff.Permanent(errSessionReplaced)
		}
		// the lost session is gone; this only stops local delivery
		if old != nil {
			_ = old.Delete(attemptCtx)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.monitorLog.Warnf("Restoring monitor on %s failed, retrying in %s: %v", sub.item.Address, wait, err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.reconnectBackOff(), ctx), notify); err != nil {
		c.monitorLog.Debugf("Restoring monitor on %s stopped: %v", sub.item.Address, err)
		return
	}
	c.monitorLog.Debugf("Restored monitor on %s", sub.item.Address)
}
