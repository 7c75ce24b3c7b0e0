//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// BLE exposes messages as notifications on the Nordic UART TX
// characteristic, which stock BLE terminal apps and screen readers
// subscribe to.
type BLE struct {
	mu      sync.Mutex
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	tx      bluetooth.Characteristic
}

// StartBLE enables the default adapter, registers the UART service and
// begins advertising as name.
func StartBLE(name string) (*BLE, error) {
	b := &BLE{adapter: bluetooth.DefaultAdapter}
	if err := b.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth: %w", err)
	}
	err := b.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.ServiceUUIDNordicUART,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &b.tx,
				UUID:   bluetooth.CharacteristicUUIDUARTTX,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add uart service: %w", err)
	}
	b.adv = b.adapter.DefaultAdvertisement()
	if err := b.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.ServiceUUIDNordicUART},
	}); err != nil {
		return nil, fmt.Errorf("configure advertisement: %w", err)
	}
	if err := b.adv.Start(); err != nil {
		return nil, fmt.Errorf("start advertisement: %w", err)
	}
	diagf("advertising %q over BLE", name)
	return b, nil
}

// Notify writes msg to the TX characteristic in MTU-sized pieces.
func (b *BLE) Notify(ctx context.Context, msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, part := range chunkUTF8(msg, bleChunk) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.tx.Write([]byte(part)); err != nil {
			return fmt.Errorf("ble notify: %w", err)
		}
	}
	return nil
}

// Close stops advertising.
func (b *BLE) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.adv == nil {
		return nil
	}
	err := b.adv.Stop()
	b.adv = nil
	return err
}
