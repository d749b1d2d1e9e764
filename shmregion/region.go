// Package shmregion opens, maps and validates the ring files described in
// spec.md §4.2 and §6: a leading Superblock followed by nslots fixed-size
// slots. It generalizes a fixed single-file /dev/shm mmap layout,
// widened to any allow-listed path and from a single BBO layout to
// header rings and payload pools of arbitrary stride.
package shmregion

import (
	"os"
	"syscall"

	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/tperr"
)

// Mode selects how a region is mapped.
type Mode int

const (
	ReadWrite Mode = iota // producer / driver
	ReadOnly               // consumer
)

// Region is a memory-mapped ring file: a Superblock followed by slots.
type Region struct {
	file *os.File
	data []byte
	sb   Superblock
}

// Open opens, mmaps and validates an existing ring file at a path already
// checked by ValidatePath. The want* arguments (stream id, epoch, region
// type, pool id, slot bytes) describe what the caller expects to find in
// the superblock; a mismatch fails the attach with INVALID, per spec.md
// §4.2 step 4. Slot count and stride are taken from the file's
// superblock and are not checked.
func Open(path string, mode Mode, wantStreamID uint32, wantEpoch uint64, wantType RegionType, wantPoolID uint16, wantSlotBytes uint32) (*Region, error) {
	const op = "shmregion.Open"

	flag := os.O_RDONLY
	prot := syscall.PROT_READ
	if mode == ReadWrite {
		flag = os.O_RDWR
		prot = syscall.PROT_READ | syscall.PROT_WRITE
	}

	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, tperr.Wrap(tperr.Invalid, op, err, "open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tperr.Wrap(tperr.Invalid, op, err, "stat %s", path)
	}
	size := info.Size()
	if size < SuperblockBytes {
		f.Close()
		return nil, tperr.New(tperr.Invalid, op, "%s shorter than superblock", path)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, tperr.Wrap(tperr.Invalid, op, err, "mmap %s", path)
	}

	r := &Region{file: f, data: data}
	r.sb.Unmarshal(data[:SuperblockBytes])

	if err := r.sb.Validate(wantStreamID, wantEpoch, wantType, wantPoolID, wantSlotBytes); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Superblock returns the validated superblock.
func (r *Region) Superblock() Superblock { return r.sb }

// Slot returns a seqlock.Slot view over slot index idx (already reduced
// mod slot count by the caller).
func (r *Region) Slot(idx uint32) *seqlock.Slot {
	off := SuperblockBytes + int(idx)*int(r.sb.SlotBytes)
	return seqlock.NewSlot(r.data[off : off+int(r.sb.SlotBytes)])
}

// Payload returns the byte window for a payload-pool slot of the region's
// configured stride.
func (r *Region) Payload(idx uint32) []byte {
	off := SuperblockBytes + int(idx)*int(r.sb.StrideBytes)
	return r.data[off : off+int(r.sb.StrideBytes)]
}

// TouchActivity updates the last-activity timestamp in the live mapping
// (producer side only — consumers map read-only).
func (r *Region) TouchActivity(nowNs uint64) {
	r.sb.LastActivityNs = nowNs
	r.sb.Marshal(r.data[:SuperblockBytes])
}

// Close unmaps the region and releases the file descriptor.
func (r *Region) Close() error {
	if r.data != nil {
		if err := syscall.Munmap(r.data); err != nil {
			r.file.Close()
			return err
		}
		r.data = nil
	}
	return r.file.Close()
}
