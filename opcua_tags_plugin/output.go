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
	"math"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/opcua-tag-client/pkg/logger"
	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient"
)

// TagMapping binds a field of the structured message to a tag address.
// A zero Kind writes the value with the type inferred from JSON.
type TagMapping struct {
	Address   string
	ValueFrom string
	Kind      uaclient.Kind
}

func tagsOutputConfig() *service.ConfigSpec {
	spec := service.NewConfigSpec().
		Summary("Writes fields of structured messages to OPC UA tags.").
		Description("Every message is written as one batch. " +
			"The write fails unless the server accepts every value.")

	for _, f := range connectionFields() {
		spec = spec.Field(f)
	}

	return spec.
		Field(service.NewObjectListField("tagMappings",
			service.NewStringField("address").
				Description("String node address of the tag to write."),
			service.NewStringField("valueFrom").
				Description("Field of the message holding the value."),
			service.NewStringField("dataType").
				Description("OPC UA data type of the tag. One of bool, byte, int16, uint16, int32, uint32, "+
					"int64, uint64, float32, float64 or string. Empty infers Int32 or Double from the JSON value.").
				Default("")).
			Description("Mappings of message fields to tag addresses.").
			Example([]map[string]any{{"address": "Line1.Filler.Setpoint", "valueFrom": "setpoint", "dataType": "float64"}}))
}

func init() {
	err := service.RegisterOutput(
		"opcua_tags", tagsOutputConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Output, int, error) {
			out, err := newTagsOutput(conf, mgr)
			if err != nil {
				return nil, 0, err
			}
			return out, 1, nil
		})
	if err != nil {
		panic(err)
	}
}

type tagsOutput struct {
	conn     connection
	mappings []TagMapping

	log    *service.Logger
	client *uaclient.Client
}

func newTagsOutput(conf *service.ParsedConfig, mgr *service.Resources) (*tagsOutput, error) {
	conn, err := parseConnection(conf)
	if err != nil {
		return nil, err
	}
	mappings, err := parseTagMappings(conf)
	if err != nil {
		return nil, err
	}

	client, err := uaclient.New(conn.Client, uaclient.WithLogger(logger.For(logger.ComponentPlugin)))
	if err != nil {
		return nil, err
	}

	return &tagsOutput{
		conn:     conn,
		mappings: mappings,
		log:      mgr.Logger(),
		client:   client,
	}, nil
}

func parseTagMappings(conf *service.ParsedConfig) ([]TagMapping, error) {
	objs, err := conf.FieldObjectList("tagMappings")
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, errors.New("at least one tag mapping is required")
	}

	mappings := make([]TagMapping, 0, len(objs))
	for i, obj := range objs {
		var m TagMapping
		if m.Address, err = obj.FieldString("address"); err != nil {
			return nil, fmt.Errorf("tag mapping %d: %w", i, err)
		}
		if m.ValueFrom, err = obj.FieldString("valueFrom"); err != nil {
			return nil, fmt.Errorf("tag mapping %d: %w", i, err)
		}
		if m.Address == "" || m.ValueFrom == "" {
			return nil, fmt.Errorf("tag mapping %d: address and valueFrom must not be empty", i)
		}
		var dataType string
		if dataType, err = obj.FieldString("dataType"); err != nil {
			return nil, fmt.Errorf("tag mapping %d: %w", i, err)
		}
		if dataType != "" {
			if m.Kind, err = uaclient.ParseKind(dataType); err != nil {
				return nil, fmt.Errorf("tag mapping %d: %w", i, err)
			}
			if m.Kind == uaclient.KindDecimal {
				return nil, fmt.Errorf("tag mapping %d: decimal is not an OPC UA data type", i)
			}
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func (o *tagsOutput) Connect(ctx context.Context) error {
	if err := o.client.Connect(ctx, o.conn.ConnectTimeout, true); err != nil {
		o.log.Errorf("Failed to connect to %s: %v", o.conn.Client.Endpoint, err)
		return err
	}
	o.log.Infof("Connected to %s for writing %d tags", o.conn.Client.Endpoint, len(o.mappings))
	return nil
}

func (o *tagsOutput) Write(ctx context.Context, msg *service.Message) error {
	if o.client.State() == uaclient.StateDisconnected {
		return service.ErrNotConnected
	}

	tags, err := tagsFromMessage(msg, o.mappings)
	if err != nil {
		return err
	}

	if err := o.client.WriteTags(ctx, tags, o.conn.Namespace); err != nil {
		if errors.Is(err, uaclient.ErrNotConnected) {
			return service.ErrNotConnected
		}
		return err
	}
	o.log.Debugf("Wrote %d tags", len(tags))
	return nil
}

func (o *tagsOutput) Close(ctx context.Context) error {
	return o.client.Disconnect(ctx)
}

// tagsFromMessage resolves every mapping against the structured message.
func tagsFromMessage(msg *service.Message, mappings []TagMapping) ([]uaclient.Tag, error) {
	structured, err := msg.AsStructured()
	if err != nil {
		return nil, fmt.Errorf("failed to parse message as structured: %w", err)
	}
	fields, ok := structured.(map[string]any)
	if !ok {
		return nil, errors.New("message payload is not a JSON object")
	}

	tags := make([]uaclient.Tag, 0, len(mappings))
	for _, m := range mappings {
		value, ok := fields[m.ValueFrom]
		if !ok {
			return nil, fmt.Errorf("field %q missing in message", m.ValueFrom)
		}
		v := writableValue(value)
		if m.Kind != 0 {
			if v, err = uaclient.Coerce(v, m.Kind); err != nil {
				return nil, fmt.Errorf("field %q: %w", m.ValueFrom, err)
			}
		}
		tags = append(tags, uaclient.Tag{Address: m.Address, Value: v})
	}
	return tags, nil
}

// jsonNumber is satisfied by json.Number of any decoder
type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// writableValue narrows JSON numbers. Whole numbers are written as integers.
func writableValue(v any) any {
	switch n := v.(type) {
	case jsonNumber:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int(n)
		}
		return n
	default:
		return v
	}
}
