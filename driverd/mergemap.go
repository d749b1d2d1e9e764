package driverd

import (
	"github.com/tensorpool/tensorpool/mergemap"
	"github.com/tensorpool/tensorpool/wire"
)

// SetSequenceMap upserts an operator-published sequence merge map, so
// a later SequenceMergeMapRequest can be answered. Driver-side upsert
// is out of scope for the wire protocol itself (spec.md §4.6 describes
// the announce/request pair, not how the map is authored), so this is
// the administrative entry point a control-plane tool or config reload
// calls into.
func (d *Driver) SetSequenceMap(m mergemap.SequenceMap) error {
	return d.mergemaps.UpsertSequence(m, d.clock.NowNS())
}

// SetTimestampMap is the timestamp equivalent of SetSequenceMap.
func (d *Driver) SetTimestampMap(m mergemap.TimestampMap) error {
	return d.mergemaps.UpsertTimestamp(m, d.clock.NowNS())
}

func (d *Driver) handleSequenceMergeMapRequest(req *wire.SequenceMergeMapRequest) {
	st, ok := d.streams[req.OutStreamID]
	if !ok {
		return
	}
	m, ok := d.mergemaps.FindSequence(req.OutStreamID, st.epoch.Epoch)
	if !ok {
		return
	}
	d.offerControl(&wire.SequenceMergeMapAnnounce{
		OutStreamID: m.OutStreamID,
		Epoch:       m.Epoch,
		Rules:       m.Rules,
	})
}

func (d *Driver) handleTimestampMergeMapRequest(req *wire.TimestampMergeMapRequest) {
	st, ok := d.streams[req.OutStreamID]
	if !ok {
		return
	}
	m, ok := d.mergemaps.FindTimestamp(req.OutStreamID, st.epoch.Epoch)
	if !ok {
		return
	}
	d.offerControl(&wire.TimestampMergeMapAnnounce{
		OutStreamID: m.OutStreamID,
		Epoch:       m.Epoch,
		Rules:       m.Rules,
	})
}
