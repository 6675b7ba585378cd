package audio

import (
	"context"
	"fmt"
	"strings"
)

type DeviceKind string

const (
	DeviceKindInput  DeviceKind = "input"
	DeviceKindOutput DeviceKind = "output"
)

type DeviceInfo struct {
	ID        string
	Name      string
	Kind      DeviceKind
	IsDefault bool
}

// Selector identifies a device by ID or by case-insensitive name match. The
// zero Selector means the system default device.
type Selector struct {
	ID   string
	Name string
}

var DefaultDevice = Selector{}

func (s Selector) IsDefault() bool { return s.ID == "" && s.Name == "" }

func (s Selector) String() string {
	switch {
	case s.IsDefault():
		return "default"
	case s.ID != "":
		return fmt.Sprintf("%q (%s)", s.Name, s.ID)
	default:
		return fmt.Sprintf("%q", s.Name)
	}
}

// Matches reports whether the device is the one the selector names.
func (s Selector) Matches(device DeviceInfo) bool {
	if s.IsDefault() {
		return device.IsDefault
	}
	if s.ID != "" {
		return s.ID == device.ID
	}
	return strings.Contains(strings.ToLower(device.Name), strings.ToLower(s.Name))
}

// Find returns the first device the selector matches.
func (s Selector) Find(devices []DeviceInfo) (DeviceInfo, bool) {
	for _, device := range devices {
		if s.Matches(device) {
			return device, true
		}
	}
	return DeviceInfo{}, false
}

// DeviceLister enumerates the devices of a backend.
type DeviceLister interface {
	Devices(ctx context.Context, kind DeviceKind) ([]DeviceInfo, error)
}

// DeviceStrategy picks a device when none was configured explicitly.
type DeviceStrategy interface {
	SelectDevice(ctx context.Context, kind DeviceKind) (Selector, error)
}

type DeviceStrategyFunc func(ctx context.Context, kind DeviceKind) (Selector, error)

func (f DeviceStrategyFunc) SelectDevice(ctx context.Context, kind DeviceKind) (Selector, error) {
	return f(ctx, kind)
}

// FixedDevice always returns the same selector.
func FixedDevice(selector Selector) DeviceStrategy {
	return DeviceStrategyFunc(func(context.Context, DeviceKind) (Selector, error) {
		return selector, nil
	})
}

var headphoneKeywords = []string{"headphone", "earphone", "headset", "earbud"}

// HeadphonePreference prefers a headphone-like output so the microphone does
// not pick up assistant playback. Input always uses the default device.
type HeadphonePreference struct {
	Lister DeviceLister
}

func (h HeadphonePreference) SelectDevice(ctx context.Context, kind DeviceKind) (Selector, error) {
	if kind != DeviceKindOutput || h.Lister == nil {
		return DefaultDevice, nil
	}

	devices, err := h.Lister.Devices(ctx, kind)
	if err != nil {
		return DefaultDevice, fmt.Errorf("failed to list output devices: %w", err)
	}

	for _, device := range devices {
		name := strings.ToLower(device.Name)
		for _, keyword := range headphoneKeywords {
			if strings.Contains(name, keyword) {
				return Selector{ID: device.ID, Name: device.Name}, nil
			}
		}
	}

	return DefaultDevice, nil
}

// ResolveDevice applies the selection policy: an explicit selector wins,
// otherwise the strategy decides. A failing strategy yields the default
// device together with the detection error, which callers treat as a
// warning.
func ResolveDevice(ctx context.Context, kind DeviceKind, configured Selector, strategy DeviceStrategy) (Selector, error) {
	if !configured.IsDefault() {
		return configured, nil
	}
	if strategy == nil {
		return DefaultDevice, nil
	}

	selected, err := strategy.SelectDevice(ctx, kind)
	if err != nil {
		return DefaultDevice, err
	}
	return selected, nil
}
