package app

import (
	"fmt"
	"sort"
	"strings"
)

// StartupSummary is printed once before the services start.
type StartupSummary struct {
	Mode     string
	Venue    string
	HTTPAddr string
	Ledger   string
	Pairs    []string

	PublicLimit  string
	PrivateLimit string
	Retry        string

	PriceInterval     string
	ReconcileInterval string
	Flags             map[string]bool
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	b.WriteString(line + "\n")
	b.WriteString("STARTUP SUMMARY\n")
	b.WriteString(line + "\n")

	fmt.Fprintf(&b, "[trading]\n")
	fmt.Fprintf(&b, "  mode:      %s\n", s.Mode)
	fmt.Fprintf(&b, "  venue:     %s\n", s.Venue)
	fmt.Fprintf(&b, "  pairs:     %s\n", formatList(s.Pairs))
	fmt.Fprintf(&b, "  ledger:    %s\n", s.Ledger)
	fmt.Fprintf(&b, "  http:      %s\n", s.HTTPAddr)

	fmt.Fprintf(&b, "[venue limits]\n")
	fmt.Fprintf(&b, "  public:    %s\n", s.PublicLimit)
	fmt.Fprintf(&b, "  private:   %s\n", s.PrivateLimit)
	fmt.Fprintf(&b, "  retry:     %s\n", s.Retry)

	fmt.Fprintf(&b, "[schedules]\n")
	fmt.Fprintf(&b, "  prices:    %s\n", s.PriceInterval)
	fmt.Fprintf(&b, "  reconcile: %s\n", s.ReconcileInterval)

	fmt.Fprintf(&b, "[flags]\n")
	if len(s.Flags) == 0 {
		b.WriteString("  (none)\n")
	} else {
		names := make([]string, 0, len(s.Flags))
		for name := range s.Flags {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s=%v\n", name, s.Flags[name])
		}
	}
	b.WriteString(line)
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
