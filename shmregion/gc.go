package shmregion

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// GCStream removes superseded epoch directories for one stream directly
// from disk, for out-of-band callers (cmd/tensorpool-janitor) that have
// no access to the driver's in-memory "current epoch" — unlike
// driverd.Driver.gcStream, which knows the live epoch exactly and
// excludes it explicitly, GCStream treats the highest epoch number on
// disk as live, since epochs only ever increase (lease.StreamEpoch.Bump
// prefers wall-clock-forward, falling back to increment). Keeps the
// newest keep generations (the live one counts as one of them) and
// skips any directory younger than minAgeNs. Returns the number of
// epoch directories removed.
func GCStream(base string, uid int, namespace string, streamID uint32, keep int, minAgeNs int64, nowRealtimeNs int64) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	streamDir := StreamDir(base, uid, namespace, streamID)
	entries, err := os.ReadDir(streamDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var epochs []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		epoch, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		epochs = append(epochs, epoch)
	}
	if len(epochs) == 0 {
		return 0, nil
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	if keep >= len(epochs) {
		return 0, nil
	}

	removed := 0
	for _, epoch := range epochs[:len(epochs)-keep] {
		dir := EpochDir(base, uid, namespace, streamID, epoch)
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		if minAgeNs > 0 && nowRealtimeNs-info.ModTime().UnixNano() < minAgeNs {
			continue
		}
		if err := RemoveEpochDir(base, uid, namespace, streamID, epoch); err == nil {
			removed++
		}
	}
	return removed, nil
}

// StreamIDsOnDisk lists every stream id with a provisioned directory
// under base, by scanning base/<uid>/<namespace>/ for numeric entries.
func StreamIDsOnDisk(base string, uid int, namespace string) ([]uint32, error) {
	parent := filepath.Dir(StreamDir(base, uid, namespace, 0))

	entries, err := os.ReadDir(parent)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []uint32
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
