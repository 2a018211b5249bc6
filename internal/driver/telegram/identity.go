package telegram

import "fmgram/pkg/fmgram"

const (
	// DriverType is the configured driver type token for the Telegram bot runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by the Telegram runtime.
	DriverPlatform fmgram.Platform = fmgram.PlatformTelegram
)
