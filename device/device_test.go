package device_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/device"
	"github.com/sarchlab/pmbd/pmbderr"
)

const blockSize = 4096
const sectorSize = 512

func fillSectors(n uint64, v byte) []byte {
	b := make([]byte, n*sectorSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func newDevice(numBlocks uint64, mutate func(config.Builder) config.Builder) *device.Device {
	b := config.NewBuilder().WithCapacity(numBlocks * blockSize)
	if mutate != nil {
		b = mutate(b)
	}
	cfg, err := b.Build()
	Expect(err).NotTo(HaveOccurred())

	d, err := device.Activate("test", cfg)
	Expect(err).NotTo(HaveOccurred())
	return d
}

var _ = Describe("Device", func() {
	It("reads back exactly what it wrote, unbuffered", func() {
		d := newDevice(4, nil)
		defer d.Close()

		src := fillSectors(8, 0xAB)
		Expect(d.Write(0, uint64(len(src)), src, 0)).To(Succeed())

		dst := make([]byte, len(src))
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("serves reads for a buffered block before it is flushed", func() {
		d := newDevice(4, func(b config.Builder) config.Builder {
			return b.WithBuffer(config.MinBufSize, 1, 1, 8)
		})
		defer d.Close()

		src := fillSectors(8, 0xCD)
		Expect(d.Write(0, uint64(len(src)), src, 0)).To(Succeed())

		dst := make([]byte, len(src))
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("drains the write buffer into the region on Flush", func() {
		d := newDevice(4, func(b config.Builder) config.Builder {
			return b.WithBuffer(config.MinBufSize, 1, 1, 8).WithWriteBarrier(true)
		})
		defer d.Close()

		src := fillSectors(8, 0xEF)
		Expect(d.Write(0, uint64(len(src)), src, 0)).To(Succeed())
		Expect(d.Flush()).To(Succeed())

		dst := make([]byte, len(src))
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("honours FLUSH as a barrier admitted before the write itself", func() {
		d := newDevice(4, func(b config.Builder) config.Builder {
			return b.WithBuffer(config.MinBufSize, 1, 1, 8).WithWriteBarrier(true)
		})
		defer d.Close()

		src := fillSectors(8, 0x11)
		Expect(d.Write(0, uint64(len(src)), src, device.FlagFlush)).To(Succeed())
		Expect(d.Counters().Snapshot().NumWriteBarrier).To(BeNumerically(">=", 1))
	})

	It("double-writes buffered and unbuffered on FUA", func() {
		d := newDevice(4, func(b config.Builder) config.Builder {
			return b.WithBuffer(config.MinBufSize, 1, 1, 8).WithFUA(true)
		})
		defer d.Close()

		src := fillSectors(8, 0x22)
		Expect(d.Write(0, uint64(len(src)), src, device.FlagFUA)).To(Succeed())
		Expect(d.Counters().Snapshot().NumWriteFUA).To(BeNumerically(">=", 1))

		// FUA also stores the bytes straight into the region, but the
		// block remains buffered, so this read is served from its slot.
		dst := make([]byte, len(src))
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("populates a freshly allocated buffered slot from the region before a partial-block write", func() {
		const sectorsPerBlock = blockSize / sectorSize

		cfg, err := config.NewBuilder().WithCapacity(3 * blockSize).WithWriteBarrier(true).Build()
		Expect(err).NotTo(HaveOccurred())
		// A 2-slot ring is small enough that a third block's allocation is
		// guaranteed to reuse a ring position vacated by an earlier block.
		cfg.BufEnabled = true
		cfg.BufSize = 2 * blockSize
		cfg.BufCount = 1
		cfg.BufStride = 1
		cfg.BufBatch = 1

		d, err := device.Activate("test", cfg)
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()

		// Occupy both ring slots with a distinctive pattern, then flush so
		// their ring positions are free to be reused.
		Expect(d.Write(0, sectorsPerBlock*sectorSize, fillSectors(sectorsPerBlock, 0xAA), 0)).To(Succeed())
		Expect(d.Write(sectorsPerBlock, sectorsPerBlock*sectorSize, fillSectors(sectorsPerBlock, 0xAA), 0)).To(Succeed())
		Expect(d.Flush()).To(Succeed())

		// A fresh allocation for a third, previously untouched block now
		// reuses a ring slot still carrying the old 0xAA bytes in memory.
		// Only the first sector is written, leaving the rest of the block
		// unaligned with the write.
		partial := fillSectors(1, 0xBB)
		Expect(d.Write(2*sectorsPerBlock, sectorSize, partial, 0)).To(Succeed())
		Expect(d.Flush()).To(Succeed())

		dst := make([]byte, blockSize)
		Expect(d.Read(2*sectorsPerBlock, blockSize, dst)).To(Succeed())
		Expect(dst[:sectorSize]).To(Equal(partial))
		for _, b := range dst[sectorSize:] {
			Expect(b).To(Equal(byte(0)))
		}
	})

	It("rejects a request beyond capacity", func() {
		d := newDevice(2, nil)
		defer d.Close()

		dst := make([]byte, sectorSize)
		err := d.Read(1000, sectorSize, dst)
		Expect(err).To(MatchError(pmbderr.ErrOutOfRange))
	})

	It("rejects a request that is not sector-aligned", func() {
		d := newDevice(2, nil)
		defer d.Close()

		dst := make([]byte, 10)
		err := d.Read(0, 10, dst)
		Expect(err).To(MatchError(pmbderr.ErrOutOfRange))
	})

	It("verifies checksums on a plain round trip", func() {
		d := newDevice(2, func(b config.Builder) config.Builder {
			return b.WithChecksum(true)
		})
		defer d.Close()

		src := fillSectors(8, 0x99)
		Expect(d.Write(0, uint64(len(src)), src, 0)).To(Succeed())

		dst := make([]byte, len(src))
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		Expect(dst).To(Equal(src))
	})

	It("serialises concurrent writers to overlapping blocks without corruption", func() {
		d := newDevice(1, nil)
		defer d.Close()

		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			v := byte(i)
			go func() {
				defer GinkgoRecover()
				src := fillSectors(8, v)
				Expect(d.Write(0, uint64(len(src)), src, 0)).To(Succeed())
				done <- struct{}{}
			}()
		}
		for i := 0; i < 8; i++ {
			<-done
		}

		dst := make([]byte, 8*sectorSize)
		Expect(d.Read(0, uint64(len(dst)), dst)).To(Succeed())
		for _, b := range dst {
			Expect(b).To(Equal(dst[0]))
		}
	})
})
