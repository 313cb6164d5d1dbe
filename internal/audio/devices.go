// Package audio перечисляет локальные устройства ввода через PortAudio.
// Запись ведёт бэкенд; оболочке нужен только список микрофонов на случай,
// если бэкенд его не отдал.
package audio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device - устройство ввода.
type Device struct {
	Name     string `json:"name"`
	HostAPI  string `json:"host_api,omitempty"`
	Channels int    `json:"channels"`
	Default  bool   `json:"default"`
}

// portaudio не допускает параллельных Initialize/Terminate.
var paMu sync.Mutex

// InputDevices возвращает устройства с входными каналами.
func InputDevices() ([]Device, error) {
	paMu.Lock()
	defer paMu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	// Устройства по умолчанию может не быть (например, без микрофона).
	def, _ := portaudio.DefaultInputDevice()
	return inputDevices(infos, def), nil
}

// InputNames возвращает имена микрофонов, устройство по умолчанию первым.
func InputNames() ([]string, error) {
	devices, err := InputDevices()
	if err != nil {
		return nil, err
	}
	return Names(devices), nil
}

// Names возвращает уникальные имена, устройство по умолчанию первым.
func Names(devices []Device) []string {
	names := make([]string, 0, len(devices))
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		names = append(names, d.Name)
	}
	return names
}

func inputDevices(infos []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) []Device {
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil || info.MaxInputChannels <= 0 {
			continue
		}
		name := strings.TrimSpace(info.Name)
		if name == "" {
			continue
		}
		d := Device{
			Name:     name,
			Channels: info.MaxInputChannels,
			Default:  def != nil && info.Name == def.Name && info.HostApi == def.HostApi,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		devices = append(devices, d)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Default && !devices[j].Default
	})
	return devices
}
