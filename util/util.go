// Package util holds small shared helpers with no better home.
package util

import (
	"fmt"
	"strings"
)

// AskYN prompts for interactive yes/no confirmation, used ahead of
// destructive operations (database reset, legacy CRC import) when the
// caller hasn't passed --yes.
func AskYN(prompt string, defaultYes bool) bool {
	if defaultYes {
		fmt.Printf("%s [Y/n]: ", prompt)
	} else {
		fmt.Printf("%s [y/N]: ", prompt)
	}

	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
