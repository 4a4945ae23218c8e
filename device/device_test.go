package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage"
)

func lumpID(v uint64) lump.LumpId {
	return lump.LumpIdFromU64(v)
}

func idLow(id lump.LumpId) uint64 {
	_, lo := id.U128()
	return lo
}

func newTestStorage(t *testing.T) (*storage.Storage, *metrics.BlockIOMetrics) {
	t.Helper()
	m := metrics.NewBlockIOMetrics(&metrics.Builder{})
	n := nvm.NewMeteredNVM(nvm.NewMemoryNVM(make([]byte, 1024*1024)), m)
	s, err := storage.CreateStorage(n, storage.Options{BlockSize: 512, JournalCapacityBlocks: 64})
	require.NoError(t, err)
	return s, m
}

func mustData(t *testing.T, b []byte) *lump.Data {
	t.Helper()
	d, err := lump.NewData(b)
	require.NoError(t, err)
	return d
}

// pausedDevice builds a running device without its executor goroutine so
// tests can drive the loop deterministically.
func pausedDevice(t *testing.T, s *storage.Storage, opts Options) *Device {
	t.Helper()
	opts.setDefaults()
	d := &Device{
		storage:  s,
		requests: make(chan *request, 1024),
		queue:    newDeadlineQueue(),
		opts:     opts,
		m:        metrics.NewDeviceMetrics(opts.Metrics),
		stopped:  make(chan struct{}),
	}
	d.m.Status.Set(int64(StatusRunning))
	return d
}

func TestDeviceEndToEnd(t *testing.T) {
	s, _ := newTestStorage(t)
	d := NewDevice(s, Options{})
	ctx := context.Background()

	created, err := d.Put(ctx, lumpID(1), mustData(t, []byte("value")))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := d.Get(ctx, lumpID(1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("value"), got.AsBytes())

	head, err := d.Head(ctx, lumpID(1))
	require.NoError(t, err)
	require.NotNil(t, head)

	ids, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []lump.LumpId{lumpID(1)}, ids)

	existed, err := d.Delete(ctx, lumpID(1))
	require.NoError(t, err)
	assert.True(t, existed)

	got, err = d.Get(ctx, lumpID(1))
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, StatusStopped, d.Status())
}

func TestDeviceOrdersByDeadline(t *testing.T) {
	s, _ := newTestStorage(t)
	d := pausedDevice(t, s, Options{})

	now := time.Now()
	mkGet := func(key uint64, dl Deadline) *request {
		r := newRequest(kindGet, dl)
		r.id = lumpID(key)
		return r
	}
	// deadlines t+30ms, t+10ms, t+20ms must run as 10, 20, 30
	d.enqueue(mkGet(30, At(now.Add(30*time.Millisecond))))
	d.enqueue(mkGet(10, At(now.Add(10*time.Millisecond))))
	d.enqueue(mkGet(20, At(now.Add(20*time.Millisecond))))

	var order []uint64
	for d.queue.Len() > 0 {
		r := d.queue.Pop()
		require.True(t, d.execute(r))
		order = append(order, idLow(r.id))
		<-r.done
	}
	assert.Equal(t, []uint64{10, 20, 30}, order)
}

func TestDeviceExpiredDeadlineSkipsIO(t *testing.T) {
	s, blockIO := newTestStorage(t)
	d := pausedDevice(t, s, Options{DeadlineGrace: 10 * time.Millisecond})

	r := newRequest(kindGet, At(time.Now().Add(-20*time.Millisecond)))
	r.id = lumpID(1)
	d.enqueue(r)

	reads := blockIO.Reads.Value()
	writes := blockIO.Writes.Value()
	require.True(t, d.execute(d.queue.Pop()))
	res := <-r.done
	assert.True(t, errors.Is(res.err, lumpstore.ErrDeadlineExpired))
	assert.Equal(t, reads, blockIO.Reads.Value(), "no block I/O for an expired request")
	assert.Equal(t, writes, blockIO.Writes.Value())
	assert.Equal(t, uint64(1), d.m.Expired.Value())
}

func TestDeviceWithinGraceStillExecutes(t *testing.T) {
	s, _ := newTestStorage(t)
	d := pausedDevice(t, s, Options{DeadlineGrace: 50 * time.Millisecond})

	r := newRequest(kindGet, At(time.Now().Add(-20*time.Millisecond)))
	r.id = lumpID(1)
	d.enqueue(r)
	require.True(t, d.execute(d.queue.Pop()))
	res := <-r.done
	assert.NoError(t, res.err, "20ms late is within a 50ms grace")
}

func TestDeviceCancelBeforeDispatch(t *testing.T) {
	s, _ := newTestStorage(t)
	d := pausedDevice(t, s, Options{})

	r := newRequest(kindDelete, Infinity())
	r.id = lumpID(1)
	d.enqueue(r)
	r.canceled.Store(true)

	require.True(t, d.execute(d.queue.Pop()))
	res := <-r.done
	assert.True(t, errors.Is(res.err, lumpstore.ErrCanceled))
	assert.Equal(t, uint64(1), d.m.Canceled.Value())
}

func TestDeviceContextCancellation(t *testing.T) {
	s, _ := newTestStorage(t)
	d := NewDevice(s, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Get(ctx, lumpID(1))
	assert.True(t, errors.Is(err, lumpstore.ErrCanceled))

	require.NoError(t, d.Stop(context.Background()))
}

func TestDeviceQueueLimit(t *testing.T) {
	s, _ := newTestStorage(t)
	d := pausedDevice(t, s, Options{MaxQueueLen: 2})

	d.enqueue(newRequest(kindList, Infinity()))
	d.enqueue(newRequest(kindList, Infinity()))

	_, err := d.submit(context.Background(), newRequest(kindList, Infinity()), nil)
	assert.True(t, errors.Is(err, lumpstore.ErrDeviceBusy))
}

func TestDeviceStopDrainsAndRejects(t *testing.T) {
	s, _ := newTestStorage(t)
	d := NewDevice(s, Options{})
	ctx := context.Background()

	require.NoError(t, d.Stop(ctx))

	_, err := d.Put(ctx, lumpID(1), mustData(t, []byte("x")))
	assert.True(t, errors.Is(err, lumpstore.ErrDeviceTerminated))

	// stopping again is fine
	require.NoError(t, d.Stop(ctx))
}

func TestDeviceSideJobsRunWhileIdle(t *testing.T) {
	s, _ := newTestStorage(t)
	d := NewDevice(s, Options{IdleInterval: time.Millisecond})
	ctx := context.Background()

	_, err := d.Put(ctx, lumpID(1), mustData(t, []byte("v")))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Greater(t, d.m.SideJobs.Value(), uint64(0), "idle time is spent on journal maintenance")

	got, err := d.Get(ctx, lumpID(1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v"), got.AsBytes())

	require.NoError(t, d.Stop(ctx))
}

func TestDeviceConcurrentProducers(t *testing.T) {
	s, _ := newTestStorage(t)
	d := NewDevice(s, Options{})
	ctx := context.Background()

	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := 0; i < 20; i++ {
				key := lumpID(uint64(g*100 + i))
				if _, err := d.Put(ctx, key, mustData(t, []byte{byte(g), byte(i)})); err != nil {
					done <- err
					return
				}
				if _, err := d.Get(ctx, key); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(g)
	}
	for g := 0; g < 8; g++ {
		require.NoError(t, <-done)
	}

	ids, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 160)
	require.NoError(t, d.Stop(ctx))
}
