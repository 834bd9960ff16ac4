package wbuffer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pmbd/checksum"
	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/copyops"
	"github.com/sarchlab/pmbd/gate"
	"github.com/sarchlab/pmbd/pbi"
	"github.com/sarchlab/pmbd/region"
	"github.com/sarchlab/pmbd/wbuffer"
)

const blockSize = 4096

type harness struct {
	region *region.Region
	table  *pbi.Table
	gate   *gate.Gate
	sums   *checksum.Store
	buf    *wbuffer.Buffer
}

func newHarness(numBlocks, bufCapacity uint64, wrverify bool) *harness {
	r, err := region.Map(numBlocks*blockSize, config.WB)
	Expect(err).NotTo(HaveOccurred())

	table := pbi.NewTable(numBlocks)
	g := gate.New(r, true, config.PTEMode)
	Expect(g.Activate()).To(Succeed())
	sums := checksum.NewStore(numBlocks, blockSize)

	buf := wbuffer.New(0, bufCapacity, wbuffer.Deps{
		PBITable:  table,
		Backing:   r,
		Gate:      g,
		Policy:    copyops.Policy{},
		Checksum:  sums,
		Wrverify:  wrverify,
		WPMode:    config.PTEMode,
		BlockSize: blockSize,
	})

	return &harness{region: r, table: table, gate: g, sums: sums, buf: buf}
}

func fillBlock(v byte) []byte {
	b := make([]byte, blockSize)
	for i := range b {
		b[i] = v
	}
	return b
}

var _ = Describe("Buffer", func() {
	It("serves buffered reads from the slot it just wrote", func() {
		h := newHarness(4, 4, false)

		entry := h.table.Get(0)
		entry.Lock()
		slot, err := h.buf.Alloc(0, entry, 2)
		Expect(err).NotTo(HaveOccurred())
		copy(slot, fillBlock(0x11))
		entry.Unlock()

		entry.Lock()
		data, ok := h.buf.Lookup(entry)
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal(fillBlock(0x11)))
		entry.Unlock()
	})

	It("flushes a dirty slot into the region and unlinks the PBI", func() {
		h := newHarness(4, 4, false)

		entry := h.table.Get(1)
		entry.Lock()
		slot, err := h.buf.Alloc(1, entry, 2)
		Expect(err).NotTo(HaveOccurred())
		copy(slot, fillBlock(0x22))
		entry.Unlock()

		n, err := h.buf.Flush(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(h.region.Bytes()[blockSize : 2*blockSize]).To(Equal(fillBlock(0x22)))

		entry.Lock()
		Expect(entry.Buffered()).To(BeFalse())
		entry.Unlock()
	})

	It("verifies checksum after a flush", func() {
		h := newHarness(2, 2, false)

		entry := h.table.Get(0)
		entry.Lock()
		slot, err := h.buf.Alloc(0, entry, 2)
		Expect(err).NotTo(HaveOccurred())
		copy(slot, fillBlock(0x33))
		entry.Unlock()

		_, err = h.buf.Flush(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.sums.OnRead(h.region, 0)).To(Succeed())
	})

	It("widens a flush into one RW window across a contiguous run", func() {
		h := newHarness(4, 4, false)

		for pbn := uint64(0); pbn < 3; pbn++ {
			entry := h.table.Get(pbn)
			entry.Lock()
			slot, err := h.buf.Alloc(pbn, entry, 4)
			Expect(err).NotTo(HaveOccurred())
			copy(slot, fillBlock(byte(0x40+pbn)))
			entry.Unlock()
		}

		n, err := h.buf.Flush(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		for pbn := uint64(0); pbn < 3; pbn++ {
			Expect(h.region.Bytes()[pbn*blockSize : (pbn+1)*blockSize]).
				To(Equal(fillBlock(byte(0x40 + pbn))))
		}
	})

	It("allocates synchronously through a full buffer by flushing", func() {
		h := newHarness(3, 2, false)

		for pbn := uint64(0); pbn < 2; pbn++ {
			entry := h.table.Get(pbn)
			entry.Lock()
			slot, err := h.buf.Alloc(pbn, entry, 1)
			Expect(err).NotTo(HaveOccurred())
			copy(slot, fillBlock(byte(pbn)))
			entry.Unlock()
		}
		Expect(h.buf.Full()).To(BeTrue())

		entry := h.table.Get(2)
		entry.Lock()
		slot, err := h.buf.Alloc(2, entry, 1)
		Expect(err).NotTo(HaveOccurred())
		copy(slot, fillBlock(2))
		entry.Unlock()

		Expect(h.buf.NumDirty()).To(BeNumerically("<=", 2))
	})
})
