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
	"strings"

	"github.com/gopcua/opcua/ua"
)

// Quality is the severity class of an OPC UA status code.
type Quality uint8

const (
	QualityGood Quality = iota
	QualityUncertain
	QualityBad
)

// severity bits of a status code
const severityMask = 0xC0000000

// QualityOf classifies a status code by its two severity bits.
func QualityOf(code ua.StatusCode) Quality {
	switch uint32(code) & severityMask {
	case 0:
		return QualityGood
	case 0x40000000:
		return QualityUncertain
	default:
		return QualityBad
	}
}

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityUncertain:
		return "uncertain"
	default:
		return "bad"
	}
}

// NodeRef addresses a node by its string identifier and namespace index.
type NodeRef struct {
	Address   string
	Namespace uint16
}

// NodeID converts the reference to a string node id.
func (r NodeRef) NodeID() *ua.NodeID {
	return ua.NewStringNodeID(r.Namespace, r.Address)
}

// Tag is a variable node. Value and Status are only meaningful after a read or write.
type Tag struct {
	Address   string        `json:"address"`
	Namespace uint16        `json:"namespace"`
	Value     any           `json:"value,omitempty"`
	Status    ua.StatusCode `json:"status"`
}

// Name is the last segment of the dotted address.
func (t Tag) Name() string { return lastSegment(t.Address) }

// Quality classifies the tag's status.
func (t Tag) Quality() Quality { return QualityOf(t.Status) }

// IsGood reports whether the last operation on the tag succeeded.
func (t Tag) IsGood() bool { return t.Quality() == QualityGood }

// Group is a container node with its child groups and tags in browse order.
type Group struct {
	Address   string  `json:"address"`
	Namespace uint16  `json:"namespace"`
	Groups    []Group `json:"groups"`
	Tags      []Tag   `json:"tags"`
}

// Name is the last segment of the dotted address.
func (g Group) Name() string { return lastSegment(g.Address) }

// Device is a top-level object below the Objects folder.
type Device struct {
	Address   string  `json:"address"`
	Namespace uint16  `json:"namespace"`
	Groups    []Group `json:"groups"`
	Tags      []Tag   `json:"tags"`
}

// Name is the device's browse name.
func (d Device) Name() string { return lastSegment(d.Address) }

// AllTags flattens the device tree depth first, device tags before group tags.
func (d Device) AllTags() []Tag {
	tags := append([]Tag(nil), d.Tags...)
	for _, g := range d.Groups {
		tags = append(tags, g.AllTags()...)
	}
	return tags
}

// AllTags flattens the group tree depth first.
func (g Group) AllTags() []Tag {
	tags := append([]Tag(nil), g.Tags...)
	for _, child := range g.Groups {
		tags = append(tags, child.AllTags()...)
	}
	return tags
}

// join builds a child address. Names are not escaped, so a name containing a dot
// produces an address that cannot be split back unambiguously.
func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func lastSegment(address string) string {
	if i := strings.LastIndex(address, "."); i >= 0 {
		return address[i+1:]
	}
	return address
}
