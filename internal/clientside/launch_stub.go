//go:build !windows

package clientside

import "errors"

// LaunchElevatedHelper is unavailable outside Windows; UAC elevation is
// a Windows-only concept. Non-Windows builds and tests supply a fake
// Launcher instead.
func LaunchElevatedHelper(helperPath string, args []string) (ProcessHandle, error) {
	return nil, errors.New("clientside: elevated launch is only supported on windows")
}
