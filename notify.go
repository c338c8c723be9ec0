package main

import (
	"os"
	"runtime"

	"github.com/gen2brain/beeep"
)

// notifyDesktop shows a desktop notification, best-effort and non-fatal.
var notifyDesktop = func(title, body string) {
	if body == "" {
		return
	}
	// Skip on headless Linux without DISPLAY; beeep would error.
	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return
	}
	if err := beeep.Notify(title, body, ""); err != nil {
		logDebug("notify: %v", err)
	}
}

// notifyHostAdded announces a newly discovered server when enabled.
func notifyHostAdded(gs settings, addr string) {
	if !gs.Notifications {
		return
	}
	notifyDesktop("MultiKobo", "Server found at "+addr)
}
