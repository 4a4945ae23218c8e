// Package lumpstore is an embedded, persistent key-value store for fixed
// 128-bit keys ("lump ids") and values of up to a few megabytes ("lumps"),
// designed for predictable latency on very large rotational disks.
//
// A storage file holds a header block, a journal region (an on-disk ring of
// mutation records) and a data region managed by an in-memory allocator.
// Every operation costs at most two block I/Os and all maintenance work is
// performed inline, so there are no background compactions and no
// stop-the-world pauses.
//
// The storage engine itself is single-threaded; concurrency is obtained by
// running one Device per storage file. See the storage and device packages.
package lumpstore
