package notify

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/trakhq/trak/pkg/models"
)

// ConsoleNotifier writes notifications to the daemon's stdout. No
// retry, no formatting negotiation.
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier writes to out, defaulting to stdout.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Notify prints one summary block.
func (c *ConsoleNotifier) Notify(project string, summary *models.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", project, summary.TaskCompleted)
	for _, outcome := range summary.KeyOutcomes {
		fmt.Fprintf(&b, "  - %s\n", outcome)
	}
	if summary.ContextUsagePercent > 0 {
		fmt.Fprintf(&b, "  context: %d%%\n", summary.ContextUsagePercent)
	}
	_, err := io.WriteString(c.out, b.String())
	return err
}
