package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ardenq/fleettrader/internal/ipc"
)

func TestPool_StopUnknownAccountErrsNotRunning(t *testing.T) {
	p := New("/bin/true")
	err := p.StopWorker(42, 0)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPool_SendToUnknownAccountErrsNotRunning(t *testing.T) {
	p := New("/bin/true")
	_, err := p.SendTo(42, ipc.NewCommand(42, ipc.CmdGetStatus, nil))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPool_ListActiveEmptyInitially(t *testing.T) {
	p := New("/bin/true")
	assert.Empty(t, p.ListActive())
}

func TestPool_SubscribeDropsOldestOnOverflow(t *testing.T) {
	p := New("/bin/true")
	ch := p.Subscribe()

	for i := 0; i < ObserverQueueSize+10; i++ {
		p.broadcastEvent(Event{Kind: "result", AccountID: int64(i)})
	}

	assert.Len(t, ch, ObserverQueueSize)
}
