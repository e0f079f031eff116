package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Truncate", func() {
	DescribeTable("shortens long input",
		func(in string, limit int, want string) {
			Expect(Truncate(in, limit)).To(Equal(want))
		},
		Entry("under the limit", "SOC 2", 10, "SOC 2"),
		Entry("at the limit", "HIPAA", 5, "HIPAA"),
		Entry("over the limit", "what does ISO 27001 require", 10, "what does ..."),
		Entry("multi-byte runes", "données personnelles", 7, "données..."),
		Entry("non-positive limit", "anything", 0, "anything"),
	)
})

var _ = Describe("UserAgent", func() {
	It("carries the build version", func() {
		Expect(UserAgent()).To(Equal("warden/dev (HEAD)"))
	})
})
