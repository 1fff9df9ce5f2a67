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

package opcua_tags_plugin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redpanda-data/benthos/v4/public/service"
	"golang.org/x/exp/slices"

	"github.com/united-manufacturing-hub/opcua-tag-client/pkg/logger"
	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient"
)

const (
	changeBufferSize = 1000
	maxBatchSize     = 100
	batchWaitTimeout = 3 * time.Second
)

func tagsInputConfig() *service.ConfigSpec {
	spec := service.NewConfigSpec().
		Summary("Monitors OPC UA tags and emits one message per value change.").
		Description("Each message carries the JSON encoded value of the tag. " +
			"Address, namespace, tag name and status are set as metadata. " +
			"The session is kept alive and reconnected, monitors are restored afterwards.")

	for _, f := range connectionFields() {
		spec = spec.Field(f)
	}

	return spec.
		Field(service.NewStringListField("addresses").
			Description("String node addresses of the tags to monitor.").
			Example([]string{"Line1.Filler.Speed", "Line1.Filler.Count"}).
			Default([]string{})).
		Field(service.NewBoolField("discover").
			Description("Browse all devices of the namespace and monitor every tag found.").
			Default(false)).
		Field(service.NewDurationField("samplingInterval").
			Description("Sampling and publishing interval of the monitors.").
			Default("1s"))
}

func init() {
	err := service.RegisterBatchInput(
		"opcua_tags", tagsInputConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
			in, err := newTagsInput(conf, mgr)
			if err != nil {
				return nil, err
			}
			return service.AutoRetryNacksBatched(in), nil
		})
	if err != nil {
		panic(err)
	}
}

// change is one monitor notification waiting to be emitted
type change struct {
	item *uaclient.MonitoredItem
	tag  uaclient.Tag
}

type tagsInput struct {
	conn             connection
	addresses        []string
	discover         bool
	samplingInterval time.Duration

	log    *service.Logger
	client *uaclient.Client

	changes chan change
	mu      sync.Mutex
	closed  chan struct{}
}

func newTagsInput(conf *service.ParsedConfig, mgr *service.Resources) (*tagsInput, error) {
	conn, err := parseConnection(conf)
	if err != nil {
		return nil, err
	}
	addresses, err := conf.FieldStringList("addresses")
	if err != nil {
		return nil, err
	}
	discover, err := conf.FieldBool("discover")
	if err != nil {
		return nil, err
	}
	interval, err := conf.FieldDuration("samplingInterval")
	if err != nil {
		return nil, err
	}
	if len(addresses) == 0 && !discover {
		return nil, errors.New("either addresses or discover must be set")
	}

	client, err := uaclient.New(conn.Client, uaclient.WithLogger(logger.For(logger.ComponentPlugin)))
	if err != nil {
		return nil, err
	}

	return &tagsInput{
		conn:             conn,
		addresses:        addresses,
		discover:         discover,
		samplingInterval: interval,
		log:              mgr.Logger(),
		client:           client,
		changes:          make(chan change, changeBufferSize),
		closed:           make(chan struct{}),
	}, nil
}

func (in *tagsInput) Connect(ctx context.Context) error {
	if err := in.client.Connect(ctx, in.conn.ConnectTimeout, true); err != nil {
		in.log.Errorf("Failed to connect to %s: %v", in.conn.Client.Endpoint, err)
		return err
	}

	addresses := slices.Clone(in.addresses)
	if in.discover {
		addresses = append(addresses, in.discoverAddresses(ctx)...)
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no tags found to monitor in namespace %d", in.conn.Namespace)
	}

	monitored := 0
	for _, address := range addresses {
		item, err := in.client.Monitor(ctx, address, in.samplingInterval, in.conn.Namespace, in.push, nil)
		if err != nil {
			in.log.Warnf("Failed to monitor %s: %v", address, err)
			continue
		}
		in.log.Debugf("Monitoring %s as %s", address, item.ID)
		monitored++
	}
	if monitored == 0 {
		_ = in.client.Disconnect(ctx)
		return errors.New("none of the configured tags could be monitored")
	}

	in.log.Infof("Monitoring %d of %d tags on %s", monitored, len(addresses), in.conn.Client.Endpoint)
	return nil
}

func (in *tagsInput) discoverAddresses(ctx context.Context) []string {
	var addresses []string
	for _, device := range in.client.Devices(ctx, in.conn.Namespace, true) {
		for _, tag := range device.AllTags() {
			addresses = append(addresses, tag.Address)
		}
	}
	in.log.Debugf("Discovered %d tags", len(addresses))
	return addresses
}

// push is the monitor callback. It blocks while the buffer is full so no change is lost.
func (in *tagsInput) push(item *uaclient.MonitoredItem, tag uaclient.Tag) {
	select {
	case in.changes <- change{item: item, tag: tag}:
	case <-in.closed:
	}
}

func (in *tagsInput) ReadBatch(ctx context.Context) (service.MessageBatch, service.AckFunc, error) {
	if in.client.State() == uaclient.StateDisconnected {
		return nil, nil, service.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, batchWaitTimeout)
	defer cancel()

	var first change
	select {
	case first = <-in.changes:
	case <-in.closed:
		return nil, nil, service.ErrEndOfInput
	case <-ctx.Done():
		// Nothing changed in time
		return nil, nil, nil
	}

	batch := service.MessageBatch{}
	msg, err := messageFromChange(first)
	if err != nil {
		in.log.Warnf("Dropping %s: %v", first.tag.Address, err)
	} else {
		batch = append(batch, msg)
	}

	for len(batch) < maxBatchSize {
		select {
		case c := <-in.changes:
			msg, err := messageFromChange(c)
			if err != nil {
				in.log.Warnf("Dropping %s: %v", c.tag.Address, err)
				continue
			}
			batch = append(batch, msg)
		default:
			return batch, func(ctx context.Context, err error) error { return nil }, nil
		}
	}
	return batch, func(ctx context.Context, err error) error { return nil }, nil
}

func (in *tagsInput) Close(ctx context.Context) error {
	in.mu.Lock()
	select {
	case <-in.closed:
	default:
		close(in.closed)
	}
	in.mu.Unlock()

	return in.client.Disconnect(ctx)
}

// messageFromChange encodes the tag value as JSON and sets the tag metadata.
func messageFromChange(c change) (*service.Message, error) {
	payload, err := json.Marshal(c.tag.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}

	msg := service.NewMessage(payload)
	msg.MetaSet("opcua_address", c.tag.Address)
	msg.MetaSet("opcua_namespace", strconv.Itoa(int(c.tag.Namespace)))
	msg.MetaSet("opcua_tag_name", c.tag.Name())
	msg.MetaSet("opcua_status", c.tag.Quality().String())
	msg.MetaSet("opcua_status_code", fmt.Sprintf("0x%08X", uint32(c.tag.Status)))
	if c.item != nil {
		msg.MetaSet("opcua_monitor_id", c.item.ID)
	}
	return msg, nil
}
