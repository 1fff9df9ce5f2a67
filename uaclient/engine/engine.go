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

// Package engine is the boundary between the tag client and the OPC UA protocol stack.
// The client only talks to the interfaces in this file; NewDialer provides the
// implementation on top of github.com/gopcua/opcua.
package engine

import (
	"context"
	"time"

	"github.com/gopcua/opcua/ua"
)

// DialParams are the per-connect settings. Endpoint, identity and security
// preferences are fixed when the Dialer is built.
type DialParams struct {
	// Timeout bounds endpoint discovery plus session activation.
	Timeout time.Duration
}

// Dialer opens sessions against one server.
type Dialer interface {
	Dial(ctx context.Context, params DialParams) (Session, error)
}

// ReadItem addresses the Value attribute of one node.
type ReadItem struct {
	NodeID *ua.NodeID
}

// WriteItem carries one value for the Value attribute of a node.
type WriteItem struct {
	NodeID *ua.NodeID
	Value  *ua.Variant
}

// Reference is a child returned by a browse.
type Reference struct {
	NodeID      *ua.NodeID
	DisplayName string
	BrowseName  string
	Class       ua.NodeClass
}

// Name returns the display name, or the browse name when the server sent none.
func (r Reference) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.BrowseName
}

// BrowseResult is the outcome of browsing one node. Err is set when the browse failed
// and Children is empty in that case.
type BrowseResult struct {
	Children []Reference
	Err      error
}

// OK reports whether the browse succeeded.
func (r BrowseResult) OK() bool { return r.Err == nil }

// BrowseFailed builds a failed result
func BrowseFailed(err error) BrowseResult { return BrowseResult{Err: err} }

// SubscriptionParams mirror the OPC UA CreateSubscription request.
type SubscriptionParams struct {
	PublishingInterval         time.Duration
	LifetimeCount              uint32
	MaxKeepAliveCount          uint32
	MaxNotificationsPerPublish uint32
	Priority                   uint8
}

// MonitorItem asks for data changes on the Value attribute of NodeID.
type MonitorItem struct {
	NodeID           *ua.NodeID
	ClientHandle     uint32
	SamplingInterval time.Duration
	QueueSize        uint32
}

// NotifyFunc receives one data change for the item with the given client handle.
type NotifyFunc func(clientHandle uint32, value *ua.DataValue)

// KeepAliveFunc receives the status of each heartbeat. ua.StatusOK means healthy.
type KeepAliveFunc func(status ua.StatusCode)

// Subscription is a server-side subscription owned by a Session.
type Subscription interface {
	ID() uint32
	// Monitor creates monitored items and returns one status per item, in order.
	Monitor(ctx context.Context, items ...MonitorItem) ([]ua.StatusCode, error)
	// Delete removes the subscription from the server and stops notification delivery.
	Delete(ctx context.Context) error
}

// Session is one live connection to the server.
type Session interface {
	// Connected reports whether the transport is usable.
	Connected() bool
	Read(ctx context.Context, items []ReadItem) ([]*ua.DataValue, error)
	Write(ctx context.Context, items []WriteItem) ([]ua.StatusCode, error)
	// Browse lists the forward hierarchical Object and Variable children of a node.
	Browse(ctx context.Context, nodeID *ua.NodeID) BrowseResult
	Subscribe(ctx context.Context, params SubscriptionParams, notify NotifyFunc) (Subscription, error)
	// OnKeepAlive registers fn for every heartbeat. Registering again replaces fn.
	OnKeepAlive(fn KeepAliveFunc)
	Close(ctx context.Context) error
}
