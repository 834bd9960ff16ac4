package diag

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// State is whatever a device wants to expose to a human operator
// inspecting a stuck or misbehaving instance.
type State struct {
	Name         string
	Counters     Snapshot
	StageBuckets []StageSnapshot
	BufferDirty  []uint64
}

// Dump renders State with go-spew's deeply-nested struct pretty-printer
// — the pack already carries it transitively through testify's assert
// package; here it is used directly, for a human-facing debug dump
// rather than test-failure diffs.
func Dump(s State) string {
	return fmt.Sprintf("pmbd device %q\n%s", s.Name, spew.Sdump(s))
}
