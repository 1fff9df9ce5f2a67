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
	"time"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient"
)

var _ = Describe("opcua_tags input", func() {
	var env *service.Environment

	BeforeEach(func() {
		env = service.NewEnvironment()
	})

	It("parses the connection with defaults", func() {
		conf, err := tagsInputConfig().ParseYAML(`
endpoint: "opc.tcp://localhost:4840"
addresses: ["Line1.Filler.Speed"]
`, env)
		Expect(err).NotTo(HaveOccurred())

		conn, err := parseConnection(conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(conn.Client.Endpoint).To(Equal("opc.tcp://localhost:4840"))
		Expect(conn.Namespace).To(Equal(uint16(2)))
		Expect(conn.ConnectTimeout).To(Equal(10 * time.Second))
		Expect(conn.Client.ApplicationName).To(Equal(uaclient.DefaultApplicationName))
		Expect(conn.Client.ReconnectPeriod).To(Equal(uaclient.DefaultReconnectPeriod))
		Expect(conn.Client.KeepAliveInterval).To(Equal(uaclient.DefaultKeepAliveInterval))
	})

	It("parses credentials and intervals", func() {
		conf, err := tagsInputConfig().ParseYAML(`
endpoint: "opc.tcp://plc:4840"
namespace: 3
username: "operator"
password: "secret"
reconnectPeriod: 2s
samplingInterval: 250ms
discover: true
`, env)
		Expect(err).NotTo(HaveOccurred())

		in, err := newTagsInput(conf, service.MockResources())
		Expect(err).NotTo(HaveOccurred())
		Expect(in.conn.Namespace).To(Equal(uint16(3)))
		Expect(in.conn.Client.Username).To(Equal("operator"))
		Expect(in.conn.Client.ReconnectPeriod).To(Equal(2 * time.Second))
		Expect(in.samplingInterval).To(Equal(250 * time.Millisecond))
		Expect(in.discover).To(BeTrue())
	})

	It("rejects an invalid endpoint", func() {
		conf, err := tagsInputConfig().ParseYAML(`
endpoint: "http://plc:4840"
addresses: ["A"]
`, env)
		Expect(err).NotTo(HaveOccurred())

		_, err = parseConnection(conf)
		Expect(err).To(MatchError(ContainSubstring("opc.tcp://")))
	})

	It("rejects a namespace out of range", func() {
		conf, err := tagsInputConfig().ParseYAML(`
endpoint: "opc.tcp://plc:4840"
namespace: 70000
addresses: ["A"]
`, env)
		Expect(err).NotTo(HaveOccurred())

		_, err = parseConnection(conf)
		Expect(err).To(MatchError(ContainSubstring("out of range")))
	})

	It("needs addresses or discovery", func() {
		conf, err := tagsInputConfig().ParseYAML(`endpoint: "opc.tcp://plc:4840"`, env)
		Expect(err).NotTo(HaveOccurred())

		_, err = newTagsInput(conf, service.MockResources())
		Expect(err).To(MatchError(ContainSubstring("addresses or discover")))
	})

	It("is not connected before Connect and closes cleanly", func() {
		conf, err := tagsInputConfig().ParseYAML(`
endpoint: "opc.tcp://plc:4840"
addresses: ["A"]
`, env)
		Expect(err).NotTo(HaveOccurred())
		in, err := newTagsInput(conf, service.MockResources())
		Expect(err).NotTo(HaveOccurred())

		_, _, err = in.ReadBatch(context.Background())
		Expect(err).To(Equal(service.ErrNotConnected))

		Expect(in.Close(context.Background())).To(Succeed())
		Expect(in.Close(context.Background())).To(Succeed())
	})

	Describe("messageFromChange", func() {
		It("encodes the value and sets the metadata", func() {
			item := &uaclient.MonitoredItem{ID: "item-1"}
			msg, err := messageFromChange(change{
				item: item,
				tag:  uaclient.Tag{Address: "Line1.Filler.Speed", Namespace: 2, Value: 12.5, Status: ua.StatusOK},
			})
			Expect(err).NotTo(HaveOccurred())

			payload, err := msg.AsBytes()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(payload)).To(Equal("12.5"))

			meta := map[string]string{}
			_ = msg.MetaWalk(func(k, v string) error {
				meta[k] = v
				return nil
			})
			Expect(meta).To(HaveKeyWithValue("opcua_address", "Line1.Filler.Speed"))
			Expect(meta).To(HaveKeyWithValue("opcua_namespace", "2"))
			Expect(meta).To(HaveKeyWithValue("opcua_tag_name", "Speed"))
			Expect(meta).To(HaveKeyWithValue("opcua_status", "good"))
			Expect(meta).To(HaveKeyWithValue("opcua_status_code", "0x00000000"))
			Expect(meta).To(HaveKeyWithValue("opcua_monitor_id", "item-1"))
		})

		It("reports bad values", func() {
			msg, err := messageFromChange(change{
				tag: uaclient.Tag{Address: "Pump.State", Namespace: 2, Status: ua.StatusBadNodeIDUnknown},
			})
			Expect(err).NotTo(HaveOccurred())

			payload, err := msg.AsBytes()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(payload)).To(Equal("null"))

			status, ok := msg.MetaGet("opcua_status")
			Expect(ok).To(BeTrue())
			Expect(status).To(Equal("bad"))
			_, ok = msg.MetaGet("opcua_monitor_id")
			Expect(ok).To(BeFalse())
		})
	})
})
