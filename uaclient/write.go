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
	"math"

	"github.com/gopcua/opcua/ua"
	"github.com/shopspring/decimal"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

// Write sets the value of one node.
func (c *Client) Write(ctx context.Context, address string, value any, ns uint16) error {
	return c.WriteTag(ctx, Tag{Address: address, Value: value}, ns)
}

// WriteTag writes tag.Value to tag.Address in namespace ns.
func (c *Client) WriteTag(ctx context.Context, tag Tag, ns uint16) error {
	return c.WriteTags(ctx, []Tag{tag}, ns)
}

// WriteTags writes all tags in one round trip and fails with a *WriteError for the
// first tag whose status is not good. Tags after it may have been written.
func (c *Client) WriteTags(ctx context.Context, tags []Tag, ns uint16) error {
	statuses, err := c.writeTags(ctx, tags, ns)
	if err != nil {
		return err
	}
	for i, code := range statuses {
		if QualityOf(code) != QualityGood {
			return &WriteError{Address: tags[i].Address, Code: code}
		}
	}
	return nil
}

// WriteAsync writes one value on its own goroutine. The result carries the tag
// annotated with the server's status and a *WriteError when it is not good.
func (c *Client) WriteAsync(ctx context.Context, address string, value any, ns uint16) <-chan Result[Tag] {
	return c.WriteTagAsync(ctx, Tag{Address: address, Value: value}, ns)
}

// WriteTagAsync is WriteAsync for a prepared tag.
func (c *Client) WriteTagAsync(ctx context.Context, tag Tag, ns uint16) <-chan Result[Tag] {
	return goResult(func() (Tag, error) {
		tag.Namespace = ns
		statuses, err := c.writeTags(ctx, []Tag{tag}, ns)
		if err != nil {
			return tag, err
		}
		tag.Status = statuses[0]
		if !tag.IsGood() {
			return tag, &WriteError{Address: tag.Address, Code: tag.Status}
		}
		return tag, nil
	})
}

// WriteTagsAsync writes all tags on its own goroutine and stores each status in the
// corresponding element of tags. Partial failure is not an error; only transport
// failures are. tags must not be touched until the result arrives.
func (c *Client) WriteTagsAsync(ctx context.Context, tags []Tag, ns uint16) <-chan Result[[]Tag] {
	return goResult(func() ([]Tag, error) {
		statuses, err := c.writeTags(ctx, tags, ns)
		if err != nil {
			return tags, err
		}
		for i := range tags {
			tags[i].Namespace = ns
			tags[i].Status = statuses[i]
		}
		return tags, nil
	})
}

func (c *Client) writeTags(ctx context.Context, tags []Tag, ns uint16) ([]ua.StatusCode, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	s, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	items := make([]engine.WriteItem, len(tags))
	for i, tag := range tags {
		v, err := variantOf(tag.Value)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", tag.Address, err)
		}
		items[i] = engine.WriteItem{
			NodeID: NodeRef{Address: tag.Address, Namespace: ns}.NodeID(),
			Value:  v,
		}
	}

	statuses, err := s.Write(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("write %d nodes: %w", len(tags), err)
	}
	if len(statuses) != len(tags) {
		return nil, fmt.Errorf("write %d nodes: got %d results", len(tags), len(statuses))
	}

	for i, code := range statuses {
		recordBadStatus("write", code)
		if QualityOf(code) != QualityGood {
			c.ioLog.Debugf("Write of %s returned %v", tags[i].Address, code)
		}
	}
	return statuses, nil
}

// variantOf wraps a Go value. int and uint are narrowed to 32 bits when they fit,
// matching the Int32/UInt32 nodes most servers expose; decimals are sent as Double.
func variantOf(value any) (*ua.Variant, error) {
	switch v := value.(type) {
	case *ua.Variant:
		return v, nil
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return ua.NewVariant(int32(v))
		}
		return ua.NewVariant(int64(v))
	case uint:
		if v <= math.MaxUint32 {
			return ua.NewVariant(uint32(v))
		}
		return ua.NewVariant(uint64(v))
	case decimal.Decimal:
		return ua.NewVariant(v.InexactFloat64())
	default:
		return ua.NewVariant(value)
	}
}
