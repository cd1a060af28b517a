package pkid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMax(t *testing.T) {
	a := assert.New(t)
	p := newPacketIDLimiter(65535)
	ids := p.PollPacketIDs(65535)
	a.Len(ids, 65535)
	p.BatchRelease([]PacketID{1, 2, 3, 65535})
	a.Equal([]PacketID{1, 2, 3}, p.PollPacketIDs(3))
	a.Equal([]PacketID{65535}, p.PollPacketIDs(3))
}

func TestTryPollWindowFull(t *testing.T) {
	a := assert.New(t)
	p := newPacketIDLimiter(2)

	id1, ok := p.TryPollPacketID()
	a.True(ok)
	a.Equal(PacketID(1), id1)
	id2, ok := p.TryPollPacketID()
	a.True(ok)
	a.Equal(PacketID(2), id2)

	_, ok = p.TryPollPacketID()
	a.False(ok)
	a.Equal(uint16(2), p.Used())

	p.Release(id1)
	id, ok := p.TryPollPacketID()
	a.True(ok)
	a.Equal(id1, id)
}

func TestReleaseUnknownId(t *testing.T) {
	a := assert.New(t)
	p := newPacketIDLimiter(4)
	p.Release(3)
	p.Release(0)
	p.Release(100)
	a.Equal(uint16(0), p.Used())
}

func TestCloseWakesWaiter(t *testing.T) {
	p := newPacketIDLimiter(1)
	p.PollPacketID()

	done := make(chan PacketID)
	go func() {
		done <- p.PollPacketID()
	}()
	time.Sleep(10 * time.Millisecond)
	_ = p.Close()

	select {
	case id := <-done:
		assert.Equal(t, PacketID(0), id)
	case <-time.After(time.Second):
		t.Fatal("poll not released by close")
	}
}
