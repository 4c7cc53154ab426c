// ABOUTME: Closed category enumeration for agent telemetry payloads
// ABOUTME: Parsing is the only way in, so dispatch switches stay exhaustive

package telemetry

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory indicates a payload declared a category outside the
// closed set. Non-fatal: the sender gets a failure ack, the channel stays open.
var ErrUnknownCategory = errors.New("unknown category")

// Category identifies one kind of telemetry payload. The set is closed;
// values only come out of ParseCategory, so a switch over all constants
// covers every reachable value.
type Category int

const (
	CategorySystemInfo Category = iota
	CategoryInstalledApps
	CategoryPortScan
	CategoryTaskInfo
	CategoryUSBDevices
)

// categoryNames maps each Category to its wire name.
var categoryNames = map[Category]string{
	CategorySystemInfo:    "system_info",
	CategoryInstalledApps: "installed_apps",
	CategoryPortScan:      "port_scan",
	CategoryTaskInfo:      "task_info",
	CategoryUSBDevices:    "usb_devices",
}

// ParseCategory maps a wire name to its Category.
// Returns ErrUnknownCategory for anything outside the closed set.
func ParseCategory(name string) (Category, error) {
	for c, n := range categoryNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// String returns the wire name of the category.
func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Storable reports whether the category is persisted through the generic
// snapshot path. usb_devices is owned by the USB reconciler and must be
// intercepted before generic dispatch.
func (c Category) Storable() bool {
	return c != CategoryUSBDevices
}

// StorableCategories lists the categories persisted as snapshots, in wire order.
func StorableCategories() []Category {
	return []Category{CategorySystemInfo, CategoryInstalledApps, CategoryPortScan, CategoryTaskInfo}
}
