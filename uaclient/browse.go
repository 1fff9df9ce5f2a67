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

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"golang.org/x/exp/slices"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

// serverObject is the standard diagnostics object below the Objects folder.
const serverObject = "Server"

// Tags lists the variable children of address. Browse failures yield an empty list.
func (c *Client) Tags(ctx context.Context, address string, ns uint16) []Tag {
	s, err := c.currentSession()
	if err != nil {
		c.browseLog.Debugf("Cannot browse %s: %v", address, err)
		return []Tag{}
	}
	return c.browseTags(ctx, s, address, ns)
}

// Groups lists the object children of address, each populated with its own groups
// and tags. Subtrees are always expanded down to Config.MaxBrowseDepth; recursive is
// accepted for API compatibility and does not change the result.
func (c *Client) Groups(ctx context.Context, address string, ns uint16, recursive bool) []Group {
	s, err := c.currentSession()
	if err != nil {
		c.browseLog.Debugf("Cannot browse %s: %v", address, err)
		return []Group{}
	}
	return c.browseGroups(ctx, s, address, ns, 1)
}

// Devices builds the tree below the Objects folder. The Server object is skipped and
// devices without any group or tag are dropped.
func (c *Client) Devices(ctx context.Context, ns uint16, recursive bool) []Device {
	s, err := c.currentSession()
	if err != nil {
		c.browseLog.Debugf("Cannot browse devices: %v", err)
		return []Device{}
	}

	res := c.browse(ctx, s, ua.NewNumericNodeID(0, id.ObjectsFolder))
	children := slices.DeleteFunc(slices.Clone(res.Children), func(ref engine.Reference) bool {
		return ref.Name() == serverObject
	})

	devices := []Device{}
	for _, ref := range children {
		address := ref.Name()
		d := Device{
			Address:   address,
			Namespace: ns,
			Groups:    c.browseGroups(ctx, s, address, ns, 1),
			Tags:      c.browseTags(ctx, s, address, ns),
		}
		if len(d.Tags) == 0 && len(d.Groups) == 0 {
			c.browseLog.Debugf("Skipping empty device %s", address)
			continue
		}
		devices = append(devices, d)
	}
	return devices
}

// TagsAsync runs Tags on its own goroutine.
func (c *Client) TagsAsync(ctx context.Context, address string, ns uint16) <-chan []Tag {
	return goValue(func() []Tag { return c.Tags(ctx, address, ns) })
}

// GroupsAsync runs Groups on its own goroutine.
func (c *Client) GroupsAsync(ctx context.Context, address string, ns uint16, recursive bool) <-chan []Group {
	return goValue(func() []Group { return c.Groups(ctx, address, ns, recursive) })
}

// DevicesAsync runs Devices on its own goroutine.
func (c *Client) DevicesAsync(ctx context.Context, ns uint16, recursive bool) <-chan []Device {
	return goValue(func() []Device { return c.Devices(ctx, ns, recursive) })
}

func (c *Client) browseTags(ctx context.Context, s engine.Session, address string, ns uint16) []Tag {
	res := c.browse(ctx, s, ua.NewStringNodeID(ns, address))

	tags := []Tag{}
	for _, ref := range res.Children {
		if ref.Class != ua.NodeClassVariable {
			continue
		}
		tags = append(tags, Tag{Address: join(address, ref.Name()), Namespace: ns})
	}
	return tags
}

func (c *Client) browseGroups(ctx context.Context, s engine.Session, address string, ns uint16, depth int) []Group {
	res := c.browse(ctx, s, ua.NewStringNodeID(ns, address))

	groups := []Group{}
	for _, ref := range res.Children {
		if ref.Class != ua.NodeClassObject {
			continue
		}
		g := Group{Address: join(address, ref.Name()), Namespace: ns, Groups: []Group{}, Tags: []Tag{}}
		if depth < c.cfg.MaxBrowseDepth {
			g.Groups = c.browseGroups(ctx, s, g.Address, ns, depth+1)
			g.Tags = c.browseTags(ctx, s, g.Address, ns)
		} else {
			c.browseLog.Debugf("Not expanding %s: depth limit %d reached", g.Address, c.cfg.MaxBrowseDepth)
		}
		groups = append(groups, g)
	}
	return groups
}

// browse maps a failed browse onto an empty result.
func (c *Client) browse(ctx context.Context, s engine.Session, nodeID *ua.NodeID) engine.BrowseResult {
	res := s.Browse(ctx, nodeID)
	if !res.OK() {
		browseFailuresTotal.Inc()
		c.browseLog.Debugf("Browse of %s failed: %v", nodeID, res.Err)
		return engine.BrowseResult{}
	}
	return res
}
