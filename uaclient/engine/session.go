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

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type gopcuaSession struct {
	client     *opcua.Client
	cancelConn context.CancelFunc
	interval   time.Duration
	log        *zap.SugaredLogger

	mu            sync.Mutex
	keepAlive     KeepAliveFunc
	stopHeartbeat context.CancelFunc
	closed        bool

	failureLog *rate.Limiter // at most one keep-alive warning per 30s
}

func newSession(c *opcua.Client, cancelConn context.CancelFunc, interval time.Duration, log *zap.SugaredLogger) *gopcuaSession {
	return &gopcuaSession{
		client:     c,
		cancelConn: cancelConn,
		interval:   interval,
		log:        log,
		failureLog: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

func (s *gopcuaSession) Connected() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.client.State() == opcua.Connected
}

func (s *gopcuaSession) Read(ctx context.Context, items []ReadItem) ([]*ua.DataValue, error) {
	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, len(items)),
	}
	for i, item := range items {
		req.NodesToRead[i] = &ua.ReadValueID{NodeID: item.NodeID, AttributeID: ua.AttributeIDValue}
	}

	resp, err := s.client.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("read returned %d results for %d nodes", len(resp.Results), len(items))
	}
	return resp.Results, nil
}

func (s *gopcuaSession) Write(ctx context.Context, items []WriteItem) ([]ua.StatusCode, error) {
	req := &ua.WriteRequest{NodesToWrite: make([]*ua.WriteValue, len(items))}
	for i, item := range items {
		req.NodesToWrite[i] = &ua.WriteValue{
			NodeID:      item.NodeID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        item.Value,
			},
		}
	}

	resp, err := s.client.Write(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("write returned %d results for %d nodes", len(resp.Results), len(items))
	}
	return resp.Results, nil
}

func (s *gopcuaSession) Browse(ctx context.Context, nodeID *ua.NodeID) BrowseResult {
	refs, err := s.client.Node(nodeID).References(ctx, id.HierarchicalReferences,
		ua.BrowseDirectionForward, ua.NodeClassObject|ua.NodeClassVariable, true)
	if err != nil {
		return BrowseFailed(err)
	}

	children := make([]Reference, 0, len(refs))
	for _, ref := range refs {
		child := Reference{Class: ref.NodeClass}
		if ref.NodeID != nil {
			child.NodeID = ref.NodeID.NodeID
		}
		if ref.DisplayName != nil {
			child.DisplayName = ref.DisplayName.Text
		}
		if ref.BrowseName != nil {
			child.BrowseName = ref.BrowseName.Name
		}
		children = append(children, child)
	}
	return BrowseResult{Children: children}
}

func (s *gopcuaSession) Subscribe(ctx context.Context, params SubscriptionParams, notify NotifyFunc) (Subscription, error) {
	notifyCh := make(chan *opcua.PublishNotificationData, 100)
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval:                   params.PublishingInterval,
		LifetimeCount:              params.LifetimeCount,
		MaxKeepAliveCount:          params.MaxKeepAliveCount,
		MaxNotificationsPerPublish: params.MaxNotificationsPerPublish,
		Priority:                   params.Priority,
	}, notifyCh)
	if err != nil {
		return nil, err
	}

	dispatchCtx, stop := context.WithCancel(context.Background())
	gs := &gopcuaSubscription{sub: sub, stop: stop, log: s.log}
	go gs.dispatch(dispatchCtx, notifyCh, notify)
	return gs, nil
}

func (s *gopcuaSession) OnKeepAlive(fn KeepAliveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keepAlive = fn
	if s.stopHeartbeat != nil || s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopHeartbeat = cancel
	go s.heartbeat(ctx)
}

func (s *gopcuaSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
	}
	s.mu.Unlock()

	defer s.cancelConn()
	return s.client.Close(ctx)
}

// heartbeat reads the server clock once per interval and reports the outcome.
func (s *gopcuaSession) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := s.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		if status != ua.StatusOK {
			if s.failureLog.Allow() {
				s.log.Warnf("Keep-alive failed: %v", status)
			}
		}

		s.mu.Lock()
		fn := s.keepAlive
		s.mu.Unlock()
		if fn != nil {
			fn(status)
		}
	}
}

func (s *gopcuaSession) probe(ctx context.Context) ua.StatusCode {
	if s.client.State() != opcua.Connected {
		return ua.StatusBadServerNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	resp, err := s.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{
			NodeID:      ua.NewNumericNodeID(0, id.Server_ServerStatus_CurrentTime),
			AttributeID: ua.AttributeIDValue,
		}},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		var code ua.StatusCode
		if errors.As(err, &code) {
			return code
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ua.StatusBadTimeout
		}
		return ua.StatusBadCommunicationError
	}
	if len(resp.Results) == 0 {
		return ua.StatusBadUnexpectedError
	}
	return resp.Results[0].Status
}

type gopcuaSubscription struct {
	sub  *opcua.Subscription
	stop context.CancelFunc
	log  *zap.SugaredLogger
}

func (g *gopcuaSubscription) ID() uint32 { return g.sub.SubscriptionID }

func (g *gopcuaSubscription) Monitor(ctx context.Context, items ...MonitorItem) ([]ua.StatusCode, error) {
	reqs := make([]*ua.MonitoredItemCreateRequest, len(items))
	for i, item := range items {
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(item.NodeID, ua.AttributeIDValue, item.ClientHandle)
		req.RequestedParameters.SamplingInterval = float64(item.SamplingInterval / time.Millisecond)
		if item.QueueSize > 0 {
			req.RequestedParameters.QueueSize = item.QueueSize
		}
		reqs[i] = req
	}

	resp, err := g.sub.Monitor(ctx, ua.TimestampsToReturnBoth, reqs...)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("monitor returned %d results for %d items", len(resp.Results), len(items))
	}

	statuses := make([]ua.StatusCode, len(resp.Results))
	for i, r := range resp.Results {
		statuses[i] = r.StatusCode
	}
	return statuses, nil
}

func (g *gopcuaSubscription) Delete(ctx context.Context) error {
	g.stop()
	return g.sub.Cancel(ctx)
}

func (g *gopcuaSubscription) dispatch(ctx context.Context, ch <-chan *opcua.PublishNotificationData, notify NotifyFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-ch:
			if res == nil {
				continue
			}
			if res.Error != nil {
				g.log.Debugf("Subscription %d publish error: %v", g.sub.SubscriptionID, res.Error)
				continue
			}
			change, ok := res.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range change.MonitoredItems {
				if item == nil {
					continue
				}
				notify(item.ClientHandle, item.Value)
			}
		}
	}
}
