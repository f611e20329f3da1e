package installer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// confirm asks the question on a terminal and returns the answer. Piped
// invocations have nobody to ask: they proceed as if confirmed, which keeps
// `curl | sh`-style usage working.
func confirm(assumeYes bool, question string) bool {
	if assumeYes || !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}

	fmt.Printf("%s [y/N]: ", question)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
