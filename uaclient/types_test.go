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
	"errors"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Status quality", func() {
	DescribeTable("classifies by severity",
		func(code ua.StatusCode, expected Quality) {
			Expect(QualityOf(code)).To(Equal(expected))
		},
		Entry("good", ua.StatusOK, QualityGood),
		Entry("good with sub code", ua.StatusCode(0x00A90000), QualityGood),
		Entry("uncertain", ua.StatusCode(0x40900000), QualityUncertain),
		Entry("bad", ua.StatusBadNodeIDUnknown, QualityBad),
		Entry("bad timeout", ua.StatusBadTimeout, QualityBad),
	)

	It("names the classes", func() {
		Expect(QualityGood.String()).To(Equal("good"))
		Expect(QualityUncertain.String()).To(Equal("uncertain"))
		Expect(QualityBad.String()).To(Equal("bad"))
	})
})

var _ = Describe("Names", func() {
	It("derives the display name from the last address segment", func() {
		Expect(Tag{Address: "NexusMeter.Test.Boolean"}.Name()).To(Equal("Boolean"))
		Expect(Group{Address: "NexusMeter.Test"}.Name()).To(Equal("Test"))
		Expect(Device{Address: "NexusMeter"}.Name()).To(Equal("NexusMeter"))
	})

	It("joins without escaping", func() {
		Expect(join("Line1", "Motor.A")).To(Equal("Line1.Motor.A"))
		Expect(Tag{Address: join("Line1", "Motor.A")}.Name()).To(Equal("A"))
	})
})

var _ = Describe("Errors", func() {
	It("matches typed errors against their sentinels", func() {
		Expect(errors.Is(&ServerConnectionError{Endpoint: "opc.tcp://plc"}, ErrServerConnection)).To(BeTrue())
		Expect(errors.Is(&WriteError{Code: ua.StatusBadTypeMismatch}, ErrWrite)).To(BeTrue())
		Expect(errors.Is(&ReadError{Code: ua.StatusBadTimeout}, ErrRead)).To(BeTrue())
		Expect(errors.Is(&UnsupportedTypeError{Type: "complex128"}, ErrUnsupportedType)).To(BeTrue())
	})

	It("exposes the status code", func() {
		err := error(&WriteError{Address: "Line1.Speed", Code: ua.StatusBadTypeMismatch})
		Expect(errors.Is(err, ua.StatusBadTypeMismatch)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("Line1.Speed"))
		Expect(err.Error()).To(ContainSubstring("0x80740000"))
	})

	It("keeps the cause of a connection failure", func() {
		cause := errors.New("connection refused")
		err := error(&ServerConnectionError{Endpoint: "opc.tcp://plc", Err: cause})
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("connection refused"))
	})
})
