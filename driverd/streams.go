package driverd

import (
	"os"

	"github.com/tensorpool/tensorpool/config"
	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/tperr"
)

// resolveProfile looks up name in cfg.Profiles, falling back to
// cfg.DefaultProfile when name is empty, mirroring tp_driver_add_stream's
// profile lookup.
func (d *Driver) resolveProfile(name string) (config.Profile, bool) {
	if name == "" {
		name = d.cfg.DefaultProfile
	}
	for _, p := range d.cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return config.Profile{}, false
}

// streamIDInRange reports whether streamID was reserved by one of
// cfg.StreamIDRanges, per spec.md §6's dynamic-stream-id allow-list.
func (d *Driver) streamIDInRange(streamID uint32) bool {
	for _, r := range d.cfg.StreamIDRanges {
		if streamID >= r.Base && streamID < r.Base+r.Count {
			return true
		}
	}
	return false
}

// allocateStreamID mirrors tp_driver_allocate_stream_id: scans forward
// from the last handed-out id for one not already in d.streams.
func (d *Driver) allocateStreamID() (uint32, bool) {
	for attempt := uint32(0); attempt < 1<<20; attempt++ {
		d.nextID++
		if d.nextID == 0 {
			d.nextID = 1
		}
		if _, taken := d.streams[d.nextID]; !taken {
			return d.nextID, true
		}
	}
	return 0, false
}

// ensureStream returns the existing stream state for streamID, or
// provisions a fresh one if allowCreate is set and streamID isn't
// already live, per spec.md §4.2/§4.3's PublishMode semantics.
func (d *Driver) ensureStream(streamID uint32, profileName string, allowCreate bool) (*streamState, error) {
	const op = "driverd.ensureStream"

	if st, ok := d.streams[streamID]; ok {
		return st, nil
	}
	if !allowCreate {
		return nil, tperr.New(tperr.Rejected, op, "stream %d does not exist", streamID)
	}
	if !d.cfg.AllowDynamicStreams && !d.streamIDInRange(streamID) {
		return nil, tperr.New(tperr.Rejected, op, "stream %d outside configured ranges and dynamic streams disabled", streamID)
	}

	profile, ok := d.resolveProfile(profileName)
	if !ok {
		return nil, tperr.New(tperr.Invalid, op, "unknown profile %q", profileName)
	}

	st := &streamState{streamID: streamID, profile: profile, poolURIs: make(map[uint16]string)}
	st.epoch.Bump(d.clock)
	st.epoch.MarkCreated(d.clock)

	if err := d.provisionEpoch(st); err != nil {
		return nil, tperr.Wrap(tperr.Internal, op, err, "provision stream %d epoch %d", streamID, st.epoch.Epoch)
	}

	d.streams[streamID] = st
	if d.metrics != nil {
		d.metrics.RecordEpochCreated(streamID)
	}
	return st, nil
}

// provisionEpoch creates the header ring and one default payload pool
// for st's current epoch under cfg.ShmBaseDir, per spec.md §4.2,
// reusing package shmregion's existing path/provisioning helpers.
func (d *Driver) provisionEpoch(st *streamState) error {
	const op = "driverd.provisionEpoch"

	if d.cfg.RequireHugepages {
		huge, err := shmregion.IsHugepagesDir(d.cfg.ShmBaseDir)
		if err != nil {
			return tperr.Wrap(tperr.Internal, op, err, "statfs %s", d.cfg.ShmBaseDir)
		}
		if !huge {
			return tperr.New(tperr.Rejected, op, "hugepages not available at %s", d.cfg.ShmBaseDir)
		}
	}

	uid := os.Getuid()
	epochDir := shmregion.EpochDir(d.cfg.ShmBaseDir, uid, d.cfg.ShmNamespace, st.streamID, st.epoch.Epoch)

	headerPath := shmregion.HeaderRingPath(epochDir)
	if err := shmregion.Provision(shmregion.ProvisionSpec{
		Path:             headerPath,
		StreamID:         st.streamID,
		Epoch:            st.epoch.Epoch,
		RegionType:       shmregion.RegionHeaderRing,
		SlotCount:        st.profile.NSlots,
		SlotBytes:        seqlock.SlotBytes,
		StrideBytes:      st.profile.StrideBytes,
		ProducerPID:      uint32(os.Getpid()),
		StartTimestampNs: uint64(d.clock.NowRealtimeNS()),
		Mode:             os.FileMode(d.cfg.PermissionsMode),
		Prefault:         d.cfg.PrefaultShm,
		Mlock:            d.cfg.MlockShm,
	}); err != nil {
		return err
	}
	st.headerURI = (shmregion.URI{Path: headerPath, RequireHugepages: d.cfg.RequireHugepages}).String()

	const defaultPoolID uint16 = 0
	poolPath := shmregion.PoolPath(epochDir, defaultPoolID)
	if err := shmregion.Provision(shmregion.ProvisionSpec{
		Path:             poolPath,
		StreamID:         st.streamID,
		Epoch:            st.epoch.Epoch,
		RegionType:       shmregion.RegionPayloadPool,
		PoolID:           defaultPoolID,
		SlotCount:        st.profile.NSlots,
		SlotBytes:        st.profile.SlotBytes,
		StrideBytes:      st.profile.StrideBytes,
		ProducerPID:      uint32(os.Getpid()),
		StartTimestampNs: uint64(d.clock.NowRealtimeNS()),
		Mode:             os.FileMode(d.cfg.PermissionsMode),
		Prefault:         d.cfg.PrefaultShm,
		Mlock:            d.cfg.MlockShm,
	}); err != nil {
		return err
	}
	st.poolURIs[defaultPoolID] = (shmregion.URI{Path: poolPath, RequireHugepages: d.cfg.RequireHugepages}).String()

	return nil
}
