package node

import (
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
)

func parseLevel(s string) btclogv1.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return btclogv1.LevelTrace
	case "debug":
		return btclogv1.LevelDebug
	case "warn", "warning":
		return btclogv1.LevelWarn
	case "error":
		return btclogv1.LevelError
	case "critical":
		return btclogv1.LevelCritical
	case "off":
		return btclogv1.LevelOff
	default:
		return btclogv1.LevelInfo
	}
}
