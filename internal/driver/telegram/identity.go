package telegram

import "npa-monitor/pkg/npa"

const (
	// DriverType is the driver name registered with the kernel.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by this driver.
	DriverPlatform npa.Platform = npa.PlatformTelegram
)
