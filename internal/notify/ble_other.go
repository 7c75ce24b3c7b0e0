//go:build !linux

package notify

import (
	"context"
	"errors"
)

var errBLEUnsupported = errors.New("notify: BLE peripheral mode needs BlueZ (linux)")

// BLE is unavailable off Linux.
type BLE struct{}

func StartBLE(string) (*BLE, error) { return nil, errBLEUnsupported }

func (*BLE) Notify(context.Context, string) error { return errBLEUnsupported }

func (*BLE) Close() error { return nil }
