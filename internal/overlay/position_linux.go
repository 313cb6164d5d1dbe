//go:build linux

package overlay

import (
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// positionWindow moves the window to the top-right corner of the screen and
// keeps it above other windows. Requires xdotool; wmctrl or xprop for
// always-on-top.
func positionWindow(title string, width, height, margin int) {
	// Give the window time to appear
	time.Sleep(100 * time.Millisecond)

	screenWidth, screenHeight := getScreenSize()
	if screenWidth == 0 || screenHeight == 0 {
		return
	}
	x, y := topRight(screenWidth, width, margin)

	output, err := exec.Command("xdotool", "search", "--name", title).Output()
	if err != nil {
		return
	}
	windowIDs := strings.Fields(string(output))
	if len(windowIDs) == 0 {
		return
	}
	windowID := windowIDs[0]

	exec.Command("xdotool", "windowmove", windowID, strconv.Itoa(x), strconv.Itoa(y)).Run()

	if err := exec.Command("wmctrl", "-i", "-r", windowID, "-b", "add,above").Run(); err != nil {
		// wmctrl might not be installed
		exec.Command("xprop", "-id", windowID, "-f", "_NET_WM_STATE", "32a",
			"-set", "_NET_WM_STATE", "_NET_WM_STATE_ABOVE").Run()
	}
}

// getScreenSize returns the screen dimensions using xdotool.
func getScreenSize() (width, height int) {
	output, err := exec.Command("xdotool", "getdisplaygeometry").Output()
	if err != nil {
		return 0, 0
	}
	return parseGeometry(string(output))
}
