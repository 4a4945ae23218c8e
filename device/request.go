package device

import (
	"sync/atomic"

	"github.com/nilebit/lumpstore/lump"
)

type requestKind uint8

const (
	kindPut requestKind = iota
	kindGet
	kindHead
	kindDelete
	kindDeleteRange
	kindList
	kindListRange
	kindUsageRange
	kindJournalSync
	kindJournalGC
	kindStop
)

func (k requestKind) String() string {
	switch k {
	case kindPut:
		return "put"
	case kindGet:
		return "get"
	case kindHead:
		return "head"
	case kindDelete:
		return "delete"
	case kindDeleteRange:
		return "delete_range"
	case kindList:
		return "list"
	case kindListRange:
		return "list_range"
	case kindUsageRange:
		return "usage_range"
	case kindJournalSync:
		return "journal_sync"
	case kindJournalGC:
		return "journal_gc"
	case kindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// result carries whatever a request kind produces; err is authoritative.
type result struct {
	bool   bool
	data   *lump.Data
	header *lump.Header
	ids    []lump.LumpId
	count  int
	usage  uint64
	err    error
}

// request is one queued operation. The caller owns data until done fires;
// canceled requests that already started run to completion and their
// result is dropped.
type request struct {
	kind      requestKind
	id        lump.LumpId
	data      *lump.Data
	low, high lump.LumpId
	deadline  Deadline
	seqno     uint64
	canceled  atomic.Bool
	done      chan result
}

func newRequest(kind requestKind, deadline Deadline) *request {
	return &request{
		kind:     kind,
		deadline: deadline,
		done:     make(chan result, 1),
	}
}

func (r *request) reply(res result) {
	r.done <- res
}

// RequestOption adjusts a single request.
type RequestOption func(*request)

// WithDeadline schedules the request by the given deadline instead of the
// default Infinity.
func WithDeadline(d Deadline) RequestOption {
	return func(r *request) {
		r.deadline = d
	}
}
