package shmregion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/tperr"
)

// sanitizeComponent strips path separators out of a stream/namespace
// component before it's used to build a directory name, mirroring
// tp_driver_sanitize_component in original_source/src/driver/tp_driver.c.
func sanitizeComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '/' || r == '\\' || r == 0 {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StreamDir returns <base>/tensorpool-<uid>/<namespace>/<stream>, per
// spec.md §6.
func StreamDir(base string, uid int, namespace string, streamID uint32) string {
	return filepath.Join(base,
		fmt.Sprintf("tensorpool-%d", uid),
		sanitizeComponent(namespace),
		fmt.Sprintf("%d", streamID))
}

// EpochDir returns StreamDir/<epoch>.
func EpochDir(base string, uid int, namespace string, streamID uint32, epoch uint64) string {
	return filepath.Join(StreamDir(base, uid, namespace, streamID), fmt.Sprintf("%d", epoch))
}

// HeaderRingPath and PoolPath name the two kinds of region file inside an
// epoch directory, per spec.md §6.
func HeaderRingPath(epochDir string) string { return filepath.Join(epochDir, "header.ring") }
func PoolPath(epochDir string, poolID uint16) string {
	return filepath.Join(epochDir, fmt.Sprintf("%d.pool", poolID))
}

// IsHugepagesDir reports whether path sits on a hugetlbfs mount, via
// statfs, per spec.md §4.2 ("hugepages mode is rejected if the base
// directory is not a hugepages filesystem").
func IsHugepagesDir(path string) (bool, error) {
	const hugetlbfsMagic = 0x958458f6 // Linux HUGETLBFS_MAGIC

	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return false, tperr.Wrap(tperr.Internal, "shmregion.IsHugepagesDir", err, "statfs %s", path)
	}
	return int64(st.Type) == hugetlbfsMagic, nil
}

// ProvisionSpec describes one region file to create.
type ProvisionSpec struct {
	Path             string
	StreamID         uint32
	Epoch            uint64
	RegionType       RegionType
	PoolID           uint16
	SlotCount        uint32
	SlotBytes        uint32
	StrideBytes      uint32
	ProducerPID      uint32
	StartTimestampNs uint64
	Mode             os.FileMode
	Prefault         bool
	Mlock            bool
}

// Provision creates dir (0700) if needed, then creates, truncates,
// superblock-stamps, optionally pre-faults/mlocks and fsyncs the region
// file, per spec.md §4.2 driver provisioning steps.
func Provision(spec ProvisionSpec) error {
	const op = "shmregion.Provision"

	dir := filepath.Dir(spec.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return tperr.Wrap(tperr.Internal, op, err, "mkdir %s", dir)
	}

	size := int64(SuperblockBytes) + int64(spec.SlotCount)*int64(regionSlotSize(spec))

	f, err := os.OpenFile(spec.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, spec.Mode)
	if err != nil {
		return tperr.Wrap(tperr.Internal, op, err, "create %s", spec.Path)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return tperr.Wrap(tperr.Internal, op, err, "truncate %s", spec.Path)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return tperr.Wrap(tperr.Internal, op, err, "mmap %s", spec.Path)
	}
	defer syscall.Munmap(data)

	sb := Superblock{
		Magic:            Magic,
		LayoutVersion:    LayoutVersion,
		StreamID:         spec.StreamID,
		Epoch:            spec.Epoch,
		RegionType:       spec.RegionType,
		PoolID:           spec.PoolID,
		SlotCount:        spec.SlotCount,
		SlotBytes:        spec.SlotBytes,
		StrideBytes:      spec.StrideBytes,
		ProducerPID:      spec.ProducerPID,
		StartTimestampNs: spec.StartTimestampNs,
		LastActivityNs:   spec.StartTimestampNs,
	}
	sb.Marshal(data[:SuperblockBytes])

	if spec.Prefault {
		for i := range data {
			data[i] = data[i]
		}
	}
	if spec.Mlock {
		if err := syscall.Mlock(data); err != nil {
			return tperr.Wrap(tperr.Internal, op, err, "mlock %s", spec.Path)
		}
	}

	if err := f.Sync(); err != nil {
		return tperr.Wrap(tperr.Internal, op, err, "fsync %s", spec.Path)
	}

	return nil
}

func regionSlotSize(spec ProvisionSpec) uint32 {
	if spec.RegionType == RegionHeaderRing {
		return seqlock.SlotBytes
	}
	return spec.StrideBytes
}

// RemoveEpochDir deletes an epoch directory wholesale, used by GC and by
// re-provisioning on producer change.
func RemoveEpochDir(base string, uid int, namespace string, streamID uint32, epoch uint64) error {
	dir := EpochDir(base, uid, namespace, streamID, epoch)
	if err := os.RemoveAll(dir); err != nil {
		return tperr.Wrap(tperr.Internal, "shmregion.RemoveEpochDir", err, "remove %s", dir)
	}
	return nil
}
