package device

import (
	"context"
	"fmt"

	"github.com/mdlayher/keylight"
)

// Info describes the accessory behind a light
type Info struct {
	DisplayName     string
	ProductName     string
	SerialNumber    string
	FirmwareVersion string
}

// Probe reads accessory information, confirming the light is reachable
func Probe(ctx context.Context, address string) (Info, error) {
	client, err := keylight.NewClient("http://"+address, nil)
	if err != nil {
		return Info{}, fmt.Errorf("create accessory client for %s: %w", address, err)
	}

	d, err := client.AccessoryInfo(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("accessory info from %s: %w", address, err)
	}

	return Info{
		DisplayName:     d.DisplayName,
		ProductName:     d.ProductName,
		SerialNumber:    d.SerialNumber,
		FirmwareVersion: d.FirmwareVersion,
	}, nil
}
