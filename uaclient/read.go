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
	"fmt"
	"reflect"

	"github.com/gopcua/opcua/ua"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

// Read returns the tag with whatever value and status the server sent.
// Only transport failures are returned as errors.
func (c *Client) Read(ctx context.Context, address string, ns uint16) (Tag, error) {
	tags, err := c.ReadNodes(ctx, []NodeRef{{Address: address, Namespace: ns}})
	if err != nil {
		return Tag{Address: address, Namespace: ns}, err
	}
	return tags[0], nil
}

// ReadMany reads all addresses in one round trip. Tags come back in input order,
// each with its own status.
func (c *Client) ReadMany(ctx context.Context, addresses []string, ns uint16) ([]Tag, error) {
	refs := make([]NodeRef, len(addresses))
	for i, address := range addresses {
		refs[i] = NodeRef{Address: address, Namespace: ns}
	}
	return c.ReadNodes(ctx, refs)
}

// ReadNodes is ReadMany across namespaces.
func (c *Client) ReadNodes(ctx context.Context, refs []NodeRef) ([]Tag, error) {
	if len(refs) == 0 {
		return []Tag{}, nil
	}
	s, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	items := make([]engine.ReadItem, len(refs))
	for i, ref := range refs {
		items[i] = engine.ReadItem{NodeID: ref.NodeID()}
	}

	values, err := s.Read(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("read %d nodes: %w", len(refs), err)
	}
	if len(values) != len(refs) {
		return nil, fmt.Errorf("read %d nodes: got %d results", len(refs), len(values))
	}

	tags := make([]Tag, len(refs))
	for i, dv := range values {
		tags[i] = tagFromDataValue(refs[i], dv)
		recordBadStatus("read", tags[i].Status)
	}
	return tags, nil
}

// ReadAs reads a tag and coerces its value to T. A non-good status fails with
// *ReadError; a T outside the supported kinds fails with *UnsupportedTypeError.
func ReadAs[T any](ctx context.Context, c *Client, address string, ns uint16) (T, error) {
	var zero T

	tag, err := c.Read(ctx, address, ns)
	if err != nil {
		return zero, err
	}
	if !tag.IsGood() {
		return zero, &ReadError{Address: address, Code: tag.Status}
	}

	kind, ok := kindOf(zero)
	if !ok {
		return zero, &UnsupportedTypeError{Type: reflect.TypeOf((*T)(nil)).Elem().String()}
	}
	v, err := Coerce(tag.Value, kind)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// ReadKind is ReadAs with the target chosen at run time.
func (c *Client) ReadKind(ctx context.Context, address string, ns uint16, kind Kind) (any, error) {
	tag, err := c.Read(ctx, address, ns)
	if err != nil {
		return nil, err
	}
	if !tag.IsGood() {
		return nil, &ReadError{Address: address, Code: tag.Status}
	}
	return Coerce(tag.Value, kind)
}

// ReadAsync runs Read on its own goroutine.
func (c *Client) ReadAsync(ctx context.Context, address string, ns uint16) <-chan Result[Tag] {
	return goResult(func() (Tag, error) { return c.Read(ctx, address, ns) })
}

// ReadManyAsync runs ReadMany on its own goroutine.
func (c *Client) ReadManyAsync(ctx context.Context, addresses []string, ns uint16) <-chan Result[[]Tag] {
	return goResult(func() ([]Tag, error) { return c.ReadMany(ctx, addresses, ns) })
}

// ReadNodesAsync runs ReadNodes on its own goroutine.
func (c *Client) ReadNodesAsync(ctx context.Context, refs []NodeRef) <-chan Result[[]Tag] {
	return goResult(func() ([]Tag, error) { return c.ReadNodes(ctx, refs) })
}

// ReadAsAsync runs ReadAs on its own goroutine.
func ReadAsAsync[T any](ctx context.Context, c *Client, address string, ns uint16) <-chan Result[T] {
	return goResult(func() (T, error) { return ReadAs[T](ctx, c, address, ns) })
}

func tagFromDataValue(ref NodeRef, dv *ua.DataValue) Tag {
	tag := Tag{Address: ref.Address, Namespace: ref.Namespace}
	if dv == nil {
		tag.Status = ua.StatusBadUnexpectedError
		return tag
	}
	tag.Status = dv.Status
	if dv.Value != nil {
		tag.Value = dv.Value.Value()
	}
	return tag
}
