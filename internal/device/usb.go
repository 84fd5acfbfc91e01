package device

import (
	"fmt"

	"github.com/google/gousb"
)

// Handle is an open device owned by exactly one worker.
type Handle interface {
	Device() Device
	// Check fails once the device is no longer reachable.
	Check() error
	Close() error
}

// USB scans and opens devices of one vendor through libusb.
type USB struct {
	vendor gousb.ID
}

// NewUSB creates a scanner for the devices of the given USB vendor.
func NewUSB(vendorID uint16) *USB {
	return &USB{vendor: gousb.ID(vendorID)}
}

// newContext turns the libusb init panic of gousb into ErrEnumeration.
func newContext() (ctx *gousb.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEnumeration, r)
		}
	}()
	return gousb.NewContext(), nil
}

// Scan implements Scanner.
func (u *USB) Scan() ([]Device, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == u.vendor
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}

	devices := make([]Device, 0, len(devs))
	for _, d := range devs {
		devices = append(devices, describe(d))
	}
	// OpenDevices returns the devices it could open together with the error
	// of the ones it could not.
	if err != nil {
		return devices, fmt.Errorf("some devices could not be opened: %w", err)
	}
	return devices, nil
}

// Open opens the device at bus/address.
func (u *USB) Open(bus, address uint8) (Handle, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, err
	}

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == u.vendor && desc.Bus == int(bus) && desc.Address == int(address)
	})
	if len(devs) == 0 {
		ctx.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to open device at %03d:%03d: %w", bus, address, err)
		}
		return nil, fmt.Errorf("%w at bus %03d, address %03d", ErrNotFound, bus, address)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev := devs[0]
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to detach kernel driver: %w", err)
	}

	return &usbHandle{ctx: ctx, dev: dev, info: describe(dev)}, nil
}

func describe(d *gousb.Device) Device {
	info := Device{
		Bus:       uint8(d.Desc.Bus),
		Address:   uint8(d.Desc.Address),
		VendorID:  uint16(d.Desc.Vendor),
		ProductID: uint16(d.Desc.Product),
	}

	if name, err := d.Product(); err == nil && name != "" {
		info.Name = name
	} else {
		info.Name = fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	}
	if serial, err := d.SerialNumber(); err == nil {
		info.Serial = serial
	}

	return info
}

type usbHandle struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	info Device
}

func (h *usbHandle) Device() Device { return h.info }

func (h *usbHandle) Check() error {
	_, err := h.dev.ActiveConfigNum()
	return err
}

func (h *usbHandle) Close() error {
	err := h.dev.Close()
	if cerr := h.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
