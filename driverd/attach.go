package driverd

import (
	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/wire"
)

// handleAttachRequest implements spec.md §4.3's attach flow: reject a
// reused client id or a layout-version mismatch, resolve or provision
// the stream, enforce the single-producer-per-stream invariant,
// allocate a node id, issue a lease and reply with the region URIs a
// client needs to mmap the current epoch. Mirrors
// tp_driver_handle_attach.
func (d *Driver) handleAttachRequest(req *wire.AttachRequest) {
	resp := &wire.AttachResponse{CorrelationID: req.CorrelationID, StreamID: req.StreamID}

	if d.leases.ClientIDInUse(uint32(req.ClientID)) {
		resp.Code = wire.CodeRejected
		resp.Message = "client_id already attached"
		d.offerControl(resp)
		return
	}

	if req.ExpectedLayoutVersion != 0 && req.ExpectedLayoutVersion != shmregion.LayoutVersion {
		resp.Code = wire.CodeRejected
		resp.Message = "layout version mismatch"
		d.offerControl(resp)
		return
	}

	allowCreate := req.PublishMode == wire.PublishCreateOnly || req.PublishMode == wire.PublishExistingOrCreate
	st, err := d.ensureStream(req.StreamID, "", allowCreate)
	if err != nil {
		resp.Code = wire.CodeRejected
		resp.Message = err.Error()
		d.offerControl(resp)
		return
	}
	if req.PublishMode == wire.PublishCreateOnly {
		for _, l := range d.leases.StreamLeases(req.StreamID) {
			if l.Role == wire.RoleProducer {
				resp.Code = wire.CodeRejected
				resp.Message = "stream already has a producer"
				d.offerControl(resp)
				return
			}
		}
	}

	if req.Role == wire.RoleProducer {
		for _, l := range d.leases.StreamLeases(req.StreamID) {
			if l.Role == wire.RoleProducer {
				resp.Code = wire.CodeRejected
				resp.Message = "stream already has an attached producer"
				d.offerControl(resp)
				return
			}
		}
	}

	var nodeID uint32
	if req.HasDesiredNodeID && !d.leases.NodeIDInUse(req.DesiredNodeID) && !d.leases.NodeIDInCooldown(req.DesiredNodeID) {
		nodeID = req.DesiredNodeID
	} else {
		allocated, ok := d.leases.AllocateNodeID()
		if !ok {
			resp.Code = wire.CodeInternal
			resp.Message = "node id space exhausted"
			d.offerControl(resp)
			return
		}
		nodeID = allocated
	}

	l := d.leases.Issue(req.StreamID, uint32(req.ClientID), nodeID, req.Role)
	if req.Role == wire.RoleProducer {
		st.producerLeaseID = l.ID
	}

	resp.Code = wire.CodeOK
	resp.LeaseID = l.ID
	resp.Epoch = st.epoch.Epoch
	resp.HeaderSlotBytes = seqlock.SlotBytes
	resp.HeaderNSlots = st.profile.NSlots
	resp.HeaderRegionURI = st.headerURI
	resp.Pools = st.poolDescriptors()

	d.offerControl(resp)
}

// handleDetachRequest releases leaseID, bumping the stream's epoch if it
// held the producer slot so existing consumers know to re-attach.
// Mirrors tp_driver_handle_detach.
func (d *Driver) handleDetachRequest(req *wire.DetachRequest) {
	resp := &wire.DetachResponse{CorrelationID: req.CorrelationID}

	l, ok := d.leases.Find(req.LeaseID)
	if !ok {
		resp.Code = wire.CodeRejected
		resp.Message = "lease not found"
		d.offerControl(resp)
		return
	}

	d.leases.Revoke(req.LeaseID)
	if st, ok := d.streams[l.StreamID]; ok && st.producerLeaseID == l.ID {
		st.producerLeaseID = 0
		st.epoch.Bump(d.clock)
	}

	resp.Code = wire.CodeOK
	d.offerControl(resp)
}

// handleKeepalive refreshes req.LeaseID's expiry. An unknown lease is
// logged, not rejected over the control channel: the client's next
// keepalive either succeeds against a fresh attach or the driver's own
// sweep has already sent LeaseRevoked, per tp_driver_handle_keepalive.
func (d *Driver) handleKeepalive(req *wire.LeaseKeepalive) {
	if err := d.leases.Keepalive(req.LeaseID); err != nil {
		d.logf("driverd: keepalive for unknown lease %d: %v", req.LeaseID, err)
	}
}

func (st *streamState) poolDescriptors() []wire.PoolDescriptor {
	out := make([]wire.PoolDescriptor, 0, len(st.poolURIs))
	for poolID, uri := range st.poolURIs {
		out = append(out, wire.PoolDescriptor{
			PoolID:      poolID,
			StrideBytes: st.profile.StrideBytes,
			NSlots:      st.profile.NSlots,
			URI:         uri,
		})
	}
	return out
}
