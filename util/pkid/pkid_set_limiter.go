package pkid

import (
	"io"
	"sync"
)

//PacketID is the type of packet identifier
type PacketID = uint16

//Max & min packet ID
const (
	MaxPacketID PacketID = 65535
	MinPacketID PacketID = 1
)

// Limiter 限制同时在途的 packet id 数量，即 inflight 窗口大小
type Limiter interface {
	io.Closer

	PollPacketID() PacketID
	PollPacketIDs(max uint16) (id []PacketID)
	// TryPollPacketID 不阻塞，窗口已满返回 false
	TryPollPacketID() (PacketID, bool)
	Release(id PacketID) // 释放
	BatchRelease(id []PacketID)
	Used() uint16
	Limit() uint16
}

func NewPacketIDLimiter(limit ...uint16) Limiter {
	if len(limit) == 0 || limit[0] == 0 {
		return newPacketIDLimiter(MaxPacketID)
	}
	return newPacketIDLimiter(limit[0])
}

func newPacketIDLimiter(limit uint16) *packetIDLimiter {
	return &packetIDLimiter{
		cond:      sync.NewCond(&sync.Mutex{}),
		used:      0,
		limit:     limit,
		exit:      false,
		freePid:   MinPacketID,
		lockedPid: NewBitmap(limit),
	}
}

// packetIDLimiter limit the generation of packet id to keep the number of inflight messages
// always less or equal than receive maximum setting of the client.
type packetIDLimiter struct {
	cond      *sync.Cond
	used      uint16 // 当前使用的数量
	limit     uint16 // 限制同时使用的
	exit      bool
	lockedPid *Bitmap  // packet id in-use
	freePid   PacketID // next available id
}

func (p *packetIDLimiter) Close() error {
	p.cond.L.Lock()
	p.exit = true
	p.cond.L.Unlock()
	p.cond.Broadcast()
	return nil
}

func (p *packetIDLimiter) PollPacketID() (id PacketID) {
	ids := p.PollPacketIDs(1)
	if len(ids) == 0 {
		return
	}
	return ids[0]
}

func (p *packetIDLimiter) TryPollPacketID() (PacketID, bool) {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	if p.exit || p.used >= p.limit {
		return 0, false
	}
	return p.pollLocked(1)[0], true
}

// PollPacketIDs returns at most max number of unused packetID and marks them as used for a client.
// If there is no available id, the call will be blocked until at least one packet id is available or the limiter has been closed.
// return 0 means the limiter is closed.
// the return number = min(max, i.used).
func (p *packetIDLimiter) PollPacketIDs(max uint16) (id []PacketID) {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	for p.used >= p.limit && !p.exit {
		p.cond.Wait()
	}
	if p.exit {
		return nil
	}
	n := max
	if remain := p.limit - p.used; remain < max {
		n = remain
	}
	return p.pollLocked(n)
}

func (p *packetIDLimiter) pollLocked(n uint16) (id []PacketID) {
	for j := uint16(0); j < n; j++ {
		for p.lockedPid.Get(p.freePid) == 1 {
			p.next()
		}
		id = append(id, p.freePid)
		p.used++
		p.lockedPid.Set(p.freePid, 1)
		p.next()
	}
	return id
}

func (p *packetIDLimiter) next() {
	if p.freePid == p.limit {
		p.freePid = MinPacketID
	} else {
		p.freePid++
	}
}

// Release marks the given id list as unused
func (p *packetIDLimiter) Release(id PacketID) {
	p.cond.L.Lock()
	p.releaseLocked(id)
	p.cond.L.Unlock()
	p.cond.Signal()
}

func (p *packetIDLimiter) releaseLocked(id PacketID) {
	if id < MinPacketID || id > p.limit {
		return
	}
	if p.lockedPid.Get(id) == 1 {
		p.lockedPid.Set(id, 0)
		p.used--
	}
}

func (p *packetIDLimiter) BatchRelease(id []PacketID) {
	p.cond.L.Lock()
	for _, v := range id {
		p.releaseLocked(v)
	}
	p.cond.L.Unlock()
	p.cond.Broadcast()
}

func (p *packetIDLimiter) Used() uint16 {
	p.cond.L.Lock()
	defer p.cond.L.Unlock()
	return p.used
}

func (p *packetIDLimiter) Limit() uint16 {
	return p.limit
}
