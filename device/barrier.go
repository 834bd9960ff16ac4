package device

import (
	"time"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/diag"
)

// Flush is the barrier coordinator: it excludes new writes, waits for
// every write already admitted to finish, drains every write buffer
// completely, and issues the cacheability- and copy-discipline-
// appropriate global durability step. Reads are never blocked by a
// barrier.
func (d *Device) Flush() error {
	d.barrierGate.Lock()
	defer d.barrierGate.Unlock()

	d.spinUntilNoInFlightWrites()

	if d.bufSet != nil {
		if err := d.bufSet.FlushAll(d.cfg.BufBatch); err != nil {
			return err
		}
	}

	return d.globalDurabilityStep()
}

// globalDurabilityStep issues whatever is still needed to make every
// completed store durable, per the region's cacheability:
//   - WC or UC−: no extra step, since copyops.Store already fences every
//     store under those modes regardless of nts;
//   - UC: no extra step, strongly ordered by construction;
//   - WB with clflush or nts: no extra step, per-range fences/flushes
//     have already been issued;
//   - WB otherwise: a full-region sync, standing in for the wbinvd a
//     real write-back cache flush would issue.
func (d *Device) globalDurabilityStep() error {
	switch d.cfg.Cache {
	case config.WC, config.UCMinus, config.UC:
		return nil
	}
	if d.policy.Clflush || d.policy.NTS {
		return nil
	}
	start := time.Now()
	err := d.backing.Sync(0, d.backing.Len())
	d.stages.Since(start, d.nextCPU(), diag.StageClflushAll, diag.Write)
	return err
}
