package lumpstore

import "errors"

// Error kinds surfaced by the storage engine and the device layer.
// Errors returned by this module wrap one of these sentinels; match them
// with errors.Is.
var (
	// ErrNoSpace means the data region has no single extent large enough,
	// or the journal ring cannot accept another record. Recoverable: the
	// caller may delete lumps or retry after inline GC has made progress.
	ErrNoSpace = errors.New("no space")

	// ErrInvalidInput marks a request violating input constraints, such as
	// an oversized value or a misaligned buffer.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageCorrupted means the on-disk state failed validation: a bad
	// header CRC, a broken lump trailer, or a journal replay that produced
	// a structurally impossible state. Terminal for the device.
	ErrStorageCorrupted = errors.New("storage corrupted")

	// ErrDeviceError means an underlying block read or write failed.
	// Terminal for the device.
	ErrDeviceError = errors.New("device error")

	// ErrDeadlineExpired means the request deadline passed (beyond the
	// configured grace) while the request was still queued.
	ErrDeadlineExpired = errors.New("deadline expired")

	// ErrCanceled means the caller canceled the request before dispatch.
	ErrCanceled = errors.New("request canceled")

	// ErrDeviceBusy means the device queue exceeded its configured limit.
	ErrDeviceBusy = errors.New("device busy")

	// ErrDeviceTerminated means the device has stopped and no longer
	// accepts requests.
	ErrDeviceTerminated = errors.New("device terminated")
)
