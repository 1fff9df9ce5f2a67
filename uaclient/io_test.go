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
	"errors"
	"time"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

const testNS = 2

var _ = Describe("Tag I/O", func() {
	var (
		ctx    context.Context
		srv    *fakeServer
		client *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = newFakeServer()
		srv.setValue("NexusMeter.Test.Boolean", testNS, false)
		srv.setValue("NexusMeter.Test.Int16", testNS, int16(0))
		srv.setValue("NexusMeter.Test.Int32", testNS, int32(0))
		srv.setValue("NexusMeter.Test.UInt64", testNS, uint64(0))
		srv.setValue("NexusMeter.Test.Float", testNS, float32(0))
		srv.setValue("NexusMeter.Test.Double", testNS, float64(0))
		srv.setValue("NexusMeter.Test.String", testNS, "")
		srv.setValue("Line2.Counter", 3, uint32(7))

		client = newTestClient(srv)
		Expect(client.Connect(ctx, time.Second, false)).To(Succeed())
		ResetMetrics()
	})

	AfterEach(func() {
		_ = client.Disconnect(ctx)
	})

	Describe("round trips", func() {
		DescribeTable("reads back what was written",
			func(address string, value any) {
				Expect(client.Write(ctx, address, value, testNS)).To(Succeed())

				tag, err := client.Read(ctx, address, testNS)
				Expect(err).NotTo(HaveOccurred())
				Expect(tag.IsGood()).To(BeTrue())
				Expect(tag.Value).To(Equal(value))
				Expect(tag.Address).To(Equal(address))
				Expect(tag.Namespace).To(BeEquivalentTo(testNS))
			},
			Entry("bool", "NexusMeter.Test.Boolean", true),
			Entry("int16", "NexusMeter.Test.Int16", int16(-1234)),
			Entry("int32", "NexusMeter.Test.Int32", int32(1<<20)),
			Entry("uint64", "NexusMeter.Test.UInt64", uint64(1<<40)),
			Entry("float32", "NexusMeter.Test.Float", float32(3.5)),
			Entry("float64", "NexusMeter.Test.Double", 2.718281828),
			Entry("string", "NexusMeter.Test.String", "hello"),
		)

		It("narrows Go ints to Int32", func() {
			Expect(client.Write(ctx, "NexusMeter.Test.Int32", 99, testNS)).To(Succeed())
			Expect(srv.value("NexusMeter.Test.Int32", testNS)).To(Equal(int32(99)))
		})

		It("writes decimals as doubles", func() {
			Expect(client.Write(ctx, "NexusMeter.Test.Double", decimal.RequireFromString("12.5"), testNS)).To(Succeed())
			Expect(srv.value("NexusMeter.Test.Double", testNS)).To(Equal(12.5))
		})

		It("round trips a typed read", func() {
			Expect(client.WriteTag(ctx, Tag{Address: "NexusMeter.Test.Int32", Value: int32(-5)}, testNS)).To(Succeed())

			v, err := ReadAs[int32](ctx, client, "NexusMeter.Test.Int32", testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int32(-5)))
		})
	})

	Describe("Read", func() {
		It("returns the server status instead of failing", func() {
			tag, err := client.Read(ctx, "NexusMeter.Test.Missing", testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(tag.Status).To(Equal(ua.StatusBadNodeIDUnknown))
			Expect(tag.Quality()).To(Equal(QualityBad))
			Expect(tag.Value).To(BeNil())
			Expect(testutil.ToFloat64(badStatusTotal.WithLabelValues("read"))).To(Equal(1.0))
		})

		It("keeps order and per-item status in batches", func() {
			tags, err := client.ReadMany(ctx, []string{
				"NexusMeter.Test.String",
				"NexusMeter.Test.Missing",
				"NexusMeter.Test.Boolean",
			}, testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(HaveLen(3))
			Expect(tags[0].Address).To(Equal("NexusMeter.Test.String"))
			Expect(tags[0].IsGood()).To(BeTrue())
			Expect(tags[1].Status).To(Equal(ua.StatusBadNodeIDUnknown))
			Expect(tags[2].Value).To(Equal(false))
		})

		It("reads across namespaces", func() {
			tags, err := client.ReadNodes(ctx, []NodeRef{
				{Address: "Line2.Counter", Namespace: 3},
				{Address: "NexusMeter.Test.Int16", Namespace: testNS},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tags[0].Value).To(Equal(uint32(7)))
			Expect(tags[0].Namespace).To(BeEquivalentTo(3))
			Expect(tags[1].Value).To(Equal(int16(0)))
		})

		It("returns an empty batch for no addresses", func() {
			tags, err := client.ReadMany(ctx, nil, testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(BeEmpty())
		})

		It("delivers asynchronous results", func() {
			var res Result[[]Tag]
			Eventually(client.ReadNodesAsync(ctx, []NodeRef{{Address: "Line2.Counter", Namespace: 3}})).Should(Receive(&res))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Value[0].Value).To(Equal(uint32(7)))

			var single Result[Tag]
			Eventually(client.ReadAsync(ctx, "NexusMeter.Test.Int16", testNS)).Should(Receive(&single))
			Expect(single.Value.IsGood()).To(BeTrue())

			var many Result[[]Tag]
			Eventually(client.ReadManyAsync(ctx, []string{"NexusMeter.Test.Int16"}, testNS)).Should(Receive(&many))
			Expect(many.Value).To(HaveLen(1))
		})

		It("fails without a session", func() {
			Expect(client.Disconnect(ctx)).To(Succeed())
			_, err := client.Read(ctx, "NexusMeter.Test.Int16", testNS)
			Expect(err).To(MatchError(ErrNotConnected))
		})

		It("fails when the transport rejects the request", func() {
			srv.session(0).kill()
			_, err := client.Read(ctx, "NexusMeter.Test.Int16", testNS)
			Expect(errors.Is(err, ua.StatusBadSessionClosed)).To(BeTrue())
		})
	})

	Describe("typed reads", func() {
		It("fails with the status when the read is not good", func() {
			srv.readStatus[key("NexusMeter.Test.Int32", testNS)] = ua.StatusBadUserAccessDenied

			_, err := ReadAs[int32](ctx, client, "NexusMeter.Test.Int32", testNS)
			var readErr *ReadError
			Expect(errors.As(err, &readErr)).To(BeTrue())
			Expect(readErr.Code).To(Equal(ua.StatusBadUserAccessDenied))
			Expect(errors.Is(err, ErrRead)).To(BeTrue())
			Expect(errors.Is(err, ua.StatusBadUserAccessDenied)).To(BeTrue())
		})

		It("fails for types outside the supported set", func() {
			_, err := ReadAs[time.Duration](ctx, client, "NexusMeter.Test.Int32", testNS)
			var typeErr *UnsupportedTypeError
			Expect(errors.As(err, &typeErr)).To(BeTrue())
			Expect(typeErr.Type).To(Equal("time.Duration"))

			_, err = ReadAs[int](ctx, client, "NexusMeter.Test.Int32", testNS)
			Expect(err).To(MatchError(ErrUnsupportedType))
		})

		It("converts between kinds", func() {
			srv.setValue("NexusMeter.Test.String", testNS, "1234")

			v, err := ReadAs[int16](ctx, client, "NexusMeter.Test.String", testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int16(1234)))

			d, err := ReadAs[decimal.Decimal](ctx, client, "NexusMeter.Test.String", testNS)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Equal(decimal.NewFromInt(1234))).To(BeTrue())
		})

		It("propagates conversion failures", func() {
			srv.setValue("NexusMeter.Test.String", testNS, "not a number")

			_, err := ReadAs[int32](ctx, client, "NexusMeter.Test.String", testNS)
			var convErr *ConversionError
			Expect(errors.As(err, &convErr)).To(BeTrue())
			Expect(convErr.Kind).To(Equal(KindInt32))
		})

		It("resolves the kind at run time", func() {
			srv.setValue("NexusMeter.Test.Double", testNS, 2.5)
			v, err := client.ReadKind(ctx, "NexusMeter.Test.Double", testNS, KindFloat32)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(float32(2.5)))
		})

		It("reads asynchronously", func() {
			srv.setValue("NexusMeter.Test.Boolean", testNS, true)
			var res Result[bool]
			Eventually(ReadAsAsync[bool](ctx, client, "NexusMeter.Test.Boolean", testNS)).Should(Receive(&res))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Value).To(BeTrue())
		})
	})

	Describe("Write", func() {
		It("fails with the status of a rejected write", func() {
			srv.writeStatus[key("NexusMeter.Test.Int32", testNS)] = ua.StatusBadTypeMismatch

			err := client.Write(ctx, "NexusMeter.Test.Int32", "oops", testNS)
			var writeErr *WriteError
			Expect(errors.As(err, &writeErr)).To(BeTrue())
			Expect(writeErr.Code).To(Equal(ua.StatusBadTypeMismatch))
			Expect(writeErr.Address).To(Equal("NexusMeter.Test.Int32"))
			Expect(errors.Is(err, ErrWrite)).To(BeTrue())
		})

		It("reports the first failing tag of a batch", func() {
			srv.writeStatus[key("NexusMeter.Test.Int16", testNS)] = ua.StatusBadOutOfRange

			err := client.WriteTags(ctx, []Tag{
				{Address: "NexusMeter.Test.Boolean", Value: true},
				{Address: "NexusMeter.Test.Missing", Value: int32(1)},
				{Address: "NexusMeter.Test.Int16", Value: int16(1)},
			}, testNS)

			var writeErr *WriteError
			Expect(errors.As(err, &writeErr)).To(BeTrue())
			Expect(writeErr.Address).To(Equal("NexusMeter.Test.Missing"))
			Expect(writeErr.Code).To(Equal(ua.StatusBadNodeIDUnknown))
			Expect(srv.value("NexusMeter.Test.Boolean", testNS)).To(Equal(true))
			Expect(testutil.ToFloat64(badStatusTotal.WithLabelValues("write"))).To(Equal(2.0))
		})

		It("annotates every tag asynchronously without failing", func() {
			tags := []Tag{
				{Address: "NexusMeter.Test.Boolean", Value: true},
				{Address: "NexusMeter.Test.Missing", Value: int32(1)},
			}

			var res Result[[]Tag]
			Eventually(client.WriteTagsAsync(ctx, tags, testNS)).Should(Receive(&res))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(tags[0].Status).To(Equal(ua.StatusOK))
			Expect(tags[1].Status).To(Equal(ua.StatusBadNodeIDUnknown))
			Expect(res.Value[1].Namespace).To(BeEquivalentTo(testNS))
		})

		It("returns the annotated tag from a single asynchronous write", func() {
			var res Result[Tag]
			Eventually(client.WriteAsync(ctx, "NexusMeter.Test.Missing", int32(1), testNS)).Should(Receive(&res))
			Expect(res.Value.Status).To(Equal(ua.StatusBadNodeIDUnknown))
			Expect(res.Err).To(MatchError(ErrWrite))

			Eventually(client.WriteTagAsync(ctx, Tag{Address: "NexusMeter.Test.Int16", Value: int16(3)}, testNS)).Should(Receive(&res))
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Value.IsGood()).To(BeTrue())
		})

		It("rejects values without a variant encoding", func() {
			err := client.Write(ctx, "NexusMeter.Test.String", struct{}{}, testNS)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrWrite)).To(BeFalse())
		})

		It("fails without a session", func() {
			Expect(client.Disconnect(ctx)).To(Succeed())
			Expect(client.Write(ctx, "NexusMeter.Test.Int16", int16(1), testNS)).To(MatchError(ErrNotConnected))
		})
	})
})
