package driverd

import (
	"os"
	"sort"
	"strconv"

	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/wire"
)

// maybeAnnounce broadcasts a ShmPoolAnnounce for every live stream once
// per cfg.AnnouncePeriodMs, per spec.md §4.2's periodic re-announce. This
// is the only place the driver sends ShmPoolAnnounce: handleAttachRequest
// replies with an AttachResponse and sends no announce, so subscribers
// learn a stream's current epoch and region layout on the next period.
func (d *Driver) maybeAnnounce() int {
	if d.announcePub == nil || d.cfg.AnnouncePeriodMs <= 0 {
		return 0
	}
	now := d.clock.NowNS()
	periodNs := d.cfg.AnnouncePeriodMs * 1_000_000
	if d.lastAnnounceNs != 0 && now-d.lastAnnounceNs < periodNs {
		return 0
	}
	d.lastAnnounceNs = now

	n := 0
	for _, st := range d.streams {
		d.offerAnnounce(&wire.ShmPoolAnnounce{
			StreamID:        st.streamID,
			Epoch:           st.epoch.Epoch,
			LayoutVersion:   shmregion.LayoutVersion,
			HeaderSlotBytes: seqlock.SlotBytes,
			HeaderNSlots:    st.profile.NSlots,
			HeaderRegionURI: st.headerURI,
			Pools:           st.poolDescriptors(),
		})
		n++
	}
	return n
}

// Shutdown broadcasts a DriverShutdown control message, per spec.md
// §4.8, ahead of process exit.
func (d *Driver) Shutdown(reason wire.ShutdownReason, message string) {
	d.offerControl(&wire.DriverShutdown{Reason: reason, Message: message})
}

// maybeRunEpochGC removes superseded epoch directories for every stream
// once per sweep interval, keeping the newest EpochGCKeep generations
// (including the live one) and skipping any directory younger than
// EpochGCMinAgeNs. Mirrors tp_driver_gc_stream.
func (d *Driver) maybeRunEpochGC() int {
	if !d.cfg.EpochGCEnabled || d.cfg.EpochGCKeep <= 0 {
		return 0
	}
	now := d.clock.NowNS()
	const gcIntervalNs = 30_000_000_000 // 30s, matching a conservative sweep-adjacent cadence
	if d.lastGCNs != 0 && now-d.lastGCNs < gcIntervalNs {
		return 0
	}
	d.lastGCNs = now

	n := 0
	for _, st := range d.streams {
		n += d.gcStream(st)
	}
	return n
}

func (d *Driver) gcStream(st *streamState) int {
	uid := os.Getuid()
	streamDir := shmregion.StreamDir(d.cfg.ShmBaseDir, uid, d.cfg.ShmNamespace, st.streamID)

	entries, err := os.ReadDir(streamDir)
	if err != nil {
		return 0
	}

	var epochs []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		epoch, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil || epoch == st.epoch.Epoch {
			continue
		}
		epochs = append(epochs, epoch)
	}
	if len(epochs) == 0 {
		return 0
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	keepOld := d.cfg.EpochGCKeep - 1
	if keepOld < 0 {
		keepOld = 0
	}
	if keepOld >= len(epochs) {
		return 0
	}

	nowRealtime := d.clock.NowRealtimeNS()
	removed := 0
	for _, epoch := range epochs[:len(epochs)-keepOld] {
		dir := shmregion.EpochDir(d.cfg.ShmBaseDir, os.Getuid(), d.cfg.ShmNamespace, st.streamID, epoch)
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		if d.cfg.EpochGCMinAgeNs > 0 {
			ageNs := nowRealtime - info.ModTime().UnixNano()
			if ageNs < d.cfg.EpochGCMinAgeNs {
				continue
			}
		}
		if err := shmregion.RemoveEpochDir(d.cfg.ShmBaseDir, os.Getuid(), d.cfg.ShmNamespace, st.streamID, epoch); err == nil {
			removed++
		}
	}
	return removed
}
