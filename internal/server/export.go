package server

import (
	"fmt"
	"strings"

	"github.com/tsuji-lab/gaq/internal/model"
	"github.com/tsuji-lab/gaq/internal/transcriber"
)

// ExportText renders a result as the plain-text file handed to the user:
// the formatted transcript followed by a short metadata trailer.
func ExportText(result *transcriber.Result) string {
	var b strings.Builder
	b.WriteString(result.Text)
	b.WriteString("\n\n----\n")
	fmt.Fprintf(&b, "Characters: %d\n", result.CharCount)
	fmt.Fprintf(&b, "Elapsed: %s\n", formatElapsed(result.ElapsedSec))
	fmt.Fprintf(&b, "Model: %s\n", model.DisplayName(result.Model))
	return b.String()
}

// formatElapsed renders seconds compactly: minute-resolution above one
// minute, tenths of a second below.
func formatElapsed(sec float64) string {
	if sec >= 60 {
		whole := int(sec)
		return fmt.Sprintf("%dm%02ds", whole/60, whole%60)
	}
	return fmt.Sprintf("%.1fs", sec)
}
