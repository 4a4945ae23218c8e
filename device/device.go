package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/storage"
)

// Status of a device.
type Status int32

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopped
)

// Options tune the device façade.
type Options struct {
	// DeadlineGrace is how far past its deadline a queued request may
	// still execute; beyond it the request fails with ErrDeadlineExpired
	// without touching the disk (default 10ms).
	DeadlineGrace time.Duration

	// MaxQueueLen rejects submissions with ErrDeviceBusy once the queue
	// is longer (0 = unlimited).
	MaxQueueLen int

	// IdleInterval is how long the loop waits for work before spending
	// the idle time on a journal side job (default 100µs).
	IdleInterval time.Duration

	// Metrics carries the prometheus registration target.
	Metrics *metrics.Builder
}

func (o *Options) setDefaults() {
	if o.DeadlineGrace <= 0 {
		o.DeadlineGrace = 10 * time.Millisecond
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = 100 * time.Microsecond
	}
	if o.Metrics == nil {
		o.Metrics = &metrics.Builder{}
	}
}

// Device owns one storage engine. Exactly one goroutine executes engine
// operations; producers submit requests from anywhere and block until
// their result arrives. Requests execute in deadline order, ties in
// submission order.
type Device struct {
	storage  *storage.Storage
	requests chan *request
	queue    *deadlineQueue
	opts     Options
	m        *metrics.DeviceMetrics
	stopped  chan struct{}
}

// NewDevice starts the executor goroutine for s. The device takes
// ownership: stopping it closes the storage.
func NewDevice(s *storage.Storage, opts Options) *Device {
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
	go d.run()
	return d
}

// Status reports the device run state.
func (d *Device) Status() Status {
	return Status(d.m.Status.Value())
}

// Metrics returns the device queue counters.
func (d *Device) Metrics() *metrics.DeviceMetrics {
	return d.m
}

// Put stores the lump; it reports whether a new binding was created.
func (d *Device) Put(ctx context.Context, id lump.LumpId, data *lump.Data, opts ...RequestOption) (bool, error) {
	r := newRequest(kindPut, Infinity())
	r.id, r.data = id, data
	res, err := d.submit(ctx, r, opts)
	return res.bool, err
}

// Get returns the lump's value, or nil if it does not exist.
func (d *Device) Get(ctx context.Context, id lump.LumpId, opts ...RequestOption) (*lump.Data, error) {
	r := newRequest(kindGet, Infinity())
	r.id = id
	res, err := d.submit(ctx, r, opts)
	return res.data, err
}

// Head returns the lump's summary without I/O, or nil if absent.
func (d *Device) Head(ctx context.Context, id lump.LumpId, opts ...RequestOption) (*lump.Header, error) {
	r := newRequest(kindHead, Infinity())
	r.id = id
	res, err := d.submit(ctx, r, opts)
	return res.header, err
}

// Delete removes the lump and reports whether it existed.
func (d *Device) Delete(ctx context.Context, id lump.LumpId, opts ...RequestOption) (bool, error) {
	r := newRequest(kindDelete, Infinity())
	r.id = id
	res, err := d.submit(ctx, r, opts)
	return res.bool, err
}

// DeleteRange removes every lump with low <= id <= high and returns the
// number of removed bindings.
func (d *Device) DeleteRange(ctx context.Context, low, high lump.LumpId, opts ...RequestOption) (int, error) {
	r := newRequest(kindDeleteRange, Infinity())
	r.low, r.high = low, high
	res, err := d.submit(ctx, r, opts)
	return res.count, err
}

// List returns every stored lump id in ascending order.
func (d *Device) List(ctx context.Context, opts ...RequestOption) ([]lump.LumpId, error) {
	r := newRequest(kindList, Infinity())
	res, err := d.submit(ctx, r, opts)
	return res.ids, err
}

// ListRange returns the ids with low <= id <= high in ascending order.
func (d *Device) ListRange(ctx context.Context, low, high lump.LumpId, opts ...RequestOption) ([]lump.LumpId, error) {
	r := newRequest(kindListRange, Infinity())
	r.low, r.high = low, high
	res, err := d.submit(ctx, r, opts)
	return res.ids, err
}

// UsageRange approximates the stored bytes of the lumps in the range.
func (d *Device) UsageRange(ctx context.Context, low, high lump.LumpId, opts ...RequestOption) (uint64, error) {
	r := newRequest(kindUsageRange, Infinity())
	r.low, r.high = low, high
	res, err := d.submit(ctx, r, opts)
	return res.usage, err
}

// JournalSync forces any deferred journal durability.
func (d *Device) JournalSync(ctx context.Context, opts ...RequestOption) error {
	r := newRequest(kindJournalSync, Infinity())
	_, err := d.submit(ctx, r, opts)
	return err
}

// JournalGC relocates every live journal record and persists the head.
func (d *Device) JournalGC(ctx context.Context, opts ...RequestOption) error {
	r := newRequest(kindJournalGC, Infinity())
	_, err := d.submit(ctx, r, opts)
	return err
}

// Stop shuts the device down after the queued requests ahead of it have
// been answered; the storage is synced and closed.
func (d *Device) Stop(ctx context.Context) error {
	r := newRequest(kindStop, Infinity())
	_, err := d.submit(ctx, r, nil)
	if errors.Is(err, lumpstore.ErrDeviceTerminated) {
		return nil // already stopped
	}
	return err
}

func (d *Device) submit(ctx context.Context, r *request, opts []RequestOption) (result, error) {
	for _, opt := range opts {
		opt(r)
	}
	if ctx.Err() != nil {
		return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrCanceled)
	}
	if d.Status() != StatusRunning {
		return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrDeviceTerminated)
	}
	if max := d.opts.MaxQueueLen; max > 0 && int(d.m.QueueLen.Value()) >= max {
		d.m.Failed.Inc()
		return result{}, fmt.Errorf("%s: queue length over %d: %w", r.kind, max, lumpstore.ErrDeviceBusy)
	}

	select {
	case d.requests <- r:
	case <-ctx.Done():
		return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrCanceled)
	case <-d.stopped:
		return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrDeviceTerminated)
	}

	select {
	case res := <-r.done:
		return res, res.err
	case <-ctx.Done():
		r.canceled.Store(true)
		return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrCanceled)
	case <-d.stopped:
		select {
		case res := <-r.done:
			return res, res.err
		default:
			return result{}, fmt.Errorf("%s: %w", r.kind, lumpstore.ErrDeviceTerminated)
		}
	}
}

func (d *Device) run() {
	defer close(d.stopped)
	for {
		// admit everything already waiting, then dispatch by deadline
		for admitting := true; admitting; {
			select {
			case r := <-d.requests:
				d.enqueue(r)
			default:
				admitting = false
			}
		}
		if r := d.queue.Pop(); r != nil {
			d.m.QueueLen.Set(int64(d.queue.Len()))
			d.m.Dequeued.Inc()
			if !d.execute(r) {
				return
			}
			continue
		}
		select {
		case r := <-d.requests:
			d.enqueue(r)
		case <-time.After(d.opts.IdleInterval):
			// the queue is empty: spend the idle time on journal GC
			d.m.SideJobs.Inc()
			if err := d.storage.RunSideJobOnce(); err != nil {
				if isCritical(err) {
					d.terminate(err)
					return
				}
				glog.V(1).Infof("side job: %v", err)
			}
		}
	}
}

func (d *Device) enqueue(r *request) {
	d.queue.Push(r)
	d.m.Enqueued.Inc()
	d.m.QueueLen.Set(int64(d.queue.Len()))
}

// execute runs one request to completion; no preemption happens inside
// engine operations. It returns false when the loop must exit.
func (d *Device) execute(r *request) bool {
	if r.canceled.Load() {
		d.m.Canceled.Inc()
		r.reply(result{err: fmt.Errorf("%s: %w", r.kind, lumpstore.ErrCanceled)})
		return true
	}
	if over := r.deadline.expiredBy(time.Now()); over > d.opts.DeadlineGrace {
		d.m.Expired.Inc()
		r.reply(result{err: fmt.Errorf("%s: deadline passed %s ago: %w",
			r.kind, over, lumpstore.ErrDeadlineExpired)})
		return true
	}

	var res result
	switch r.kind {
	case kindPut:
		res.bool, res.err = d.storage.Put(r.id, r.data)
	case kindGet:
		res.data, res.err = d.storage.Get(r.id)
	case kindHead:
		res.header = d.storage.Head(r.id)
	case kindDelete:
		res.bool, res.err = d.storage.Delete(r.id)
	case kindDeleteRange:
		res.count, res.err = d.storage.DeleteRange(r.low, r.high)
	case kindList:
		res.ids = d.storage.List()
	case kindListRange:
		res.ids = d.storage.ListRange(r.low, r.high)
	case kindUsageRange:
		res.usage = d.storage.UsageRange(r.low, r.high)
	case kindJournalSync:
		res.err = d.storage.JournalSync()
	case kindJournalGC:
		res.err = d.storage.JournalGC()
	case kindStop:
		d.terminate(nil)
		r.reply(result{})
		return false
	}
	if res.err != nil {
		d.m.Failed.Inc()
	}
	r.reply(res)
	if isCritical(res.err) {
		d.terminate(res.err)
		return false
	}
	return true
}

// terminate stops accepting work and drains everything still queued.
// Pending requests fail with ErrDeviceError after a critical failure and
// ErrDeviceTerminated on a graceful stop.
func (d *Device) terminate(cause error) {
	d.m.Status.Set(int64(StatusStopped))
	drainErr := lumpstore.ErrDeviceTerminated
	if cause != nil {
		glog.Errorf("device stopping on critical error: %v", cause)
		drainErr = lumpstore.ErrDeviceError
	}
	for {
		r := d.queue.Pop()
		if r == nil {
			break
		}
		r.reply(result{err: fmt.Errorf("%s: device stopped: %w", r.kind, drainErr)})
	}
	for {
		select {
		case r := <-d.requests:
			r.reply(result{err: fmt.Errorf("%s: device stopped: %w", r.kind, drainErr)})
		default:
			d.m.QueueLen.Set(0)
			if err := d.storage.Close(); err != nil {
				glog.Errorf("closing storage: %v", err)
			}
			return
		}
	}
}

func isCritical(err error) bool {
	return errors.Is(err, lumpstore.ErrStorageCorrupted) || errors.Is(err, lumpstore.ErrDeviceError)
}
