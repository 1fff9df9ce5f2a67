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
	"time"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Address space browsing", func() {
	var (
		ctx    context.Context
		srv    *fakeServer
		client *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = newFakeServer()

		// Objects
		// ├── Server
		// ├── NexusMeter
		// │   ├── Status
		// │   └── Test
		// │       ├── Boolean
		// │       ├── Int32
		// │       └── Nested
		// │           └── Level
		// ├── Idle            (no children)
		// └── Broken          (browse fails)
		srv.addObject("", "Server", testNS)
		srv.addVariable("Server", "ServerStatus", testNS, int32(0))

		meter := srv.addObject("", "NexusMeter", testNS)
		srv.addVariable(meter, "Status", testNS, "running")
		test := srv.addObject(meter, "Test", testNS)
		srv.addVariable(test, "Boolean", testNS, true)
		srv.addVariable(test, "Int32", testNS, int32(1))
		nested := srv.addObject(test, "Nested", testNS)
		srv.addVariable(nested, "Level", testNS, 0.5)

		srv.addObject("", "Idle", testNS)
		srv.addChild(objectsFolderKey, "Broken", ua.NodeClassObject, "")

		client = newTestClient(srv)
		Expect(client.Connect(ctx, time.Second, false)).To(Succeed())
	})

	AfterEach(func() {
		_ = client.Disconnect(ctx)
	})

	Describe("Tags", func() {
		It("lists variable children with dotted addresses", func() {
			tags := client.Tags(ctx, "NexusMeter.Test", testNS)
			Expect(tags).To(HaveLen(2))
			Expect(tags[0].Address).To(Equal("NexusMeter.Test.Boolean"))
			Expect(tags[0].Name()).To(Equal("Boolean"))
			Expect(tags[1].Address).To(Equal("NexusMeter.Test.Int32"))
			Expect(tags[1].Namespace).To(BeEquivalentTo(testNS))
		})

		It("yields an empty list when the browse fails", func() {
			before := testutil.ToFloat64(browseFailuresTotal)
			tags := client.Tags(ctx, "Nowhere", testNS)
			Expect(tags).NotTo(BeNil())
			Expect(tags).To(BeEmpty())
			Expect(testutil.ToFloat64(browseFailuresTotal) - before).To(Equal(1.0))
		})

		It("yields an empty list without a session", func() {
			Expect(client.Disconnect(ctx)).To(Succeed())
			Expect(client.Tags(ctx, "NexusMeter.Test", testNS)).To(BeEmpty())
		})

		It("browses asynchronously", func() {
			Eventually(client.TagsAsync(ctx, "NexusMeter", testNS)).Should(Receive(HaveLen(1)))
		})
	})

	Describe("Groups", func() {
		It("expands every subtree", func() {
			groups := client.Groups(ctx, "NexusMeter", testNS, false)
			Expect(groups).To(HaveLen(1))

			test := groups[0]
			Expect(test.Address).To(Equal("NexusMeter.Test"))
			Expect(test.Name()).To(Equal("Test"))
			Expect(test.Tags).To(HaveLen(2))
			Expect(test.Groups).To(HaveLen(1))
			Expect(test.Groups[0].Address).To(Equal("NexusMeter.Test.Nested"))
			Expect(test.Groups[0].Tags[0].Address).To(Equal("NexusMeter.Test.Nested.Level"))
		})

		It("yields an empty list when the browse fails", func() {
			Expect(client.Groups(ctx, "Nowhere", testNS, true)).To(BeEmpty())
		})

		It("stops expanding at the depth limit", func() {
			client.cfg.MaxBrowseDepth = 1
			groups := client.Groups(ctx, "NexusMeter", testNS, true)
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Groups).To(BeEmpty())
			Expect(groups[0].Tags).To(BeEmpty())
		})

		It("browses asynchronously", func() {
			Eventually(client.GroupsAsync(ctx, "NexusMeter", testNS, true)).Should(Receive(HaveLen(1)))
		})
	})

	Describe("Devices", func() {
		It("skips the Server object and empty devices", func() {
			devices := client.Devices(ctx, testNS, true)
			Expect(devices).To(HaveLen(1))

			meter := devices[0]
			Expect(meter.Address).To(Equal("NexusMeter"))
			Expect(meter.Name()).To(Equal("NexusMeter"))
			Expect(meter.Tags).To(HaveLen(1))
			Expect(meter.Tags[0].Address).To(Equal("NexusMeter.Status"))
			Expect(meter.Groups).To(HaveLen(1))
		})

		It("flattens a device into its tags", func() {
			devices := client.Devices(ctx, testNS, true)
			var addresses []string
			for _, tag := range devices[0].AllTags() {
				addresses = append(addresses, tag.Address)
			}
			Expect(addresses).To(Equal([]string{
				"NexusMeter.Status",
				"NexusMeter.Test.Boolean",
				"NexusMeter.Test.Int32",
				"NexusMeter.Test.Nested.Level",
			}))
		})

		It("keeps devices that only contain groups", func() {
			srv.addObject("Idle", "Folder", testNS)
			names := []string{}
			for _, d := range client.Devices(ctx, testNS, true) {
				names = append(names, d.Name())
			}
			Expect(names).To(ConsistOf("NexusMeter", "Idle"))
		})

		It("yields an empty list without a session", func() {
			Expect(client.Disconnect(ctx)).To(Succeed())
			Expect(client.Devices(ctx, testNS, true)).To(BeEmpty())
		})

		It("browses asynchronously", func() {
			Eventually(client.DevicesAsync(ctx, testNS, true)).Should(Receive(HaveLen(1)))
		})
	})
})
