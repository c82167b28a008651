package session

import (
	"fmt"

	"github.com/loykin/telenotify/internal/notifier"
)

// Message bodies are MarkdownV2. The process name is shown as a code span
// and everything else is escaped.

func StartMessage(name string) string {
	return compose(name, "Starting process! 🤖")
}

func PingMessage(name, elapsed string) string {
	return compose(name, fmt.Sprintf("Still running… 🦾 (elapsed %s)", elapsed))
}

func SuccessMessage(name, elapsed string) string {
	return compose(name, "Process finished correctly! 😁", "Elapsed: "+elapsed)
}

func FailureMessage(name string, exitCode int, elapsed string) string {
	return compose(name, fmt.Sprintf("ERROR! 😰 (exit code %d)", exitCode), "Elapsed: "+elapsed)
}

func CancelMessage(name, elapsed string) string {
	return compose(name, "Cancelled! 😵", "Elapsed: "+elapsed)
}

func compose(name string, lines ...string) string {
	out := notifier.CodeSpan(name) + "\n"
	for _, l := range lines {
		out += "\n" + notifier.EscapeMarkdownV2(l)
	}
	return out
}
