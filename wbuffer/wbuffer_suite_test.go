package wbuffer_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWbuffer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wbuffer Suite")
}
