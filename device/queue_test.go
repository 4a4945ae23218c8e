package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadlineQueueOrdering(t *testing.T) {
	q := newDeadlineQueue()

	push := func(tag uint64, d Deadline) {
		r := newRequest(kindGet, d)
		r.seqno = tag // overwritten by Push; keep id in low for assertions
		r.low = lumpID(tag)
		q.Push(r)
	}

	push(0, Infinity())
	push(1, Immediate())
	push(2, Within(time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	push(3, Within(0))
	push(4, Immediate())

	assert.Equal(t, 5, q.Len())
	var got []uint64
	for q.Len() > 0 {
		r := q.Pop()
		got = append(got, idLow(r.low))
	}
	// immediates first in FIFO order, then by absolute deadline, then
	// the infinite one
	assert.Equal(t, []uint64{1, 4, 2, 3, 0}, got)
	assert.Nil(t, q.Pop())
}

func TestDeadlineExpiredBy(t *testing.T) {
	now := time.Now()
	assert.Zero(t, Immediate().expiredBy(now))
	assert.Zero(t, Infinity().expiredBy(now))
	assert.Zero(t, At(now.Add(time.Second)).expiredBy(now))
	assert.Equal(t, time.Second, At(now.Add(-time.Second)).expiredBy(now))
}

func TestDeadlineOrderingRelation(t *testing.T) {
	now := time.Now()
	assert.True(t, Immediate().before(At(now)))
	assert.True(t, At(now).before(At(now.Add(time.Millisecond))))
	assert.True(t, At(now).before(Infinity()))
	assert.False(t, Infinity().before(Infinity()))
	assert.False(t, Immediate().before(Immediate()))
}
