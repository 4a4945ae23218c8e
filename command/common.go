package command

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/nilebit/lumpstore/device"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage"
)

// openDevice opens an existing storage file and wraps it in a device.
func openDevice(path string) (*device.Device, bool) {
	n, err := nvm.OpenFileNVM(path)
	if err != nil {
		glog.Errorf("open %s: %v", path, err)
		return nil, false
	}
	s, err := storage.OpenStorage(n, storage.Options{})
	if err != nil {
		glog.Errorf("open storage %s: %v", path, err)
		_ = n.Close()
		return nil, false
	}
	return device.NewDevice(s, device.Options{}), true
}

func stopDevice(d *device.Device) {
	if err := d.Stop(context.Background()); err != nil {
		glog.Errorf("stop device: %v", err)
	}
}

func deadlineOpt(ms int) []device.RequestOption {
	if ms <= 0 {
		return nil
	}
	return []device.RequestOption{
		device.WithDeadline(device.Within(time.Duration(ms) * time.Millisecond)),
	}
}
