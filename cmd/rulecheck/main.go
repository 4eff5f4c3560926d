// rulecheck loads a safety rules file and runs the same validation the
// desk daemon applies at startup, then prints a per-rule summary. It
// exits non-zero on an unreadable, unparseable or invalid file, so rule
// edits can be checked before the daemon restarts onto them.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/AaronLay10/ScratchDesk/internal/safety"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: rulecheck [rules.json]")
		flag.PrintDefaults()
	}
	flag.Parse()

	path := "config/safety_rules.json"
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	doc, err := safety.LoadDocument(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rulecheck: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: version %s, %d rules", path, doc.Version, len(doc.Rules))
	if !doc.GlobalEnabled {
		fmt.Print(" (globally disabled)")
	}
	fmt.Println()

	for _, r := range doc.Rules {
		fmt.Printf("  [%3d] %-28s %-8s %s\n", r.Priority, r.ID, ruleState(&r), ruleTraits(&r))
	}
}

func ruleState(r *safety.SafetyRule) string {
	if !r.Enabled {
		return "disabled"
	}
	return r.Severity
}

// ruleTraits summarizes what a rule does: which operations it blocks
// and whether it is monitored during a run.
func ruleTraits(r *safety.SafetyRule) string {
	var traits []string

	for _, b := range r.BlockedOperations {
		t := "blocks " + b.Operation
		if b.Direction != "" {
			t += " " + b.Direction
		}
		if len(b.Tools) > 0 {
			t += " (" + strings.Join(b.Tools, ", ") + ")"
		}
		if b.ExcludeSetup {
			t += " [setup exempt]"
		}
		traits = append(traits, t)
	}

	if r.Monitor != nil && r.Monitor.Enabled {
		t := "monitor"
		if len(r.Monitor.OperationContext) > 0 {
			t += " during " + strings.Join(r.Monitor.OperationContext, "/")
		}
		traits = append(traits, t)
	}

	if len(traits) == 0 {
		return "no effect"
	}
	return strings.Join(traits, "; ")
}
