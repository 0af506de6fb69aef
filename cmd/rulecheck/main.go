// Command rulecheck evaluates the rules of a YAML rule file against the
// sample campaigns in the same file and prints every decision. Nothing
// is sent to any ad platform.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"campaign-autopilot/internal/rules"
)

type options struct {
	path    string
	asJSON  bool
	onlyHit bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.path, "file", "rules.yaml", "rule file with rules and campaigns")
	fs.BoolVar(&o.asJSON, "json", false, "print decisions as JSON lines")
	fs.BoolVar(&o.onlyHit, "actionable", false, "only print decisions that would change a campaign")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		o.path = fs.Arg(0)
	}
	return o, nil
}

type result struct {
	Campaign   string         `json:"campaign"`
	Status     string         `json:"status"`
	Decision   rules.Decision `json:"decision"`
	Actionable bool           `json:"actionable"`
}

// evaluate applies every active rule to every campaign. Inactive rules
// are left out and only the first actionable rule per campaign would be
// executed, as in the live loop.
func evaluate(f rules.File) []result {
	var out []result
	for _, spec := range f.Campaigns {
		snap := spec.Snapshot()
		acted := false
		for _, r := range f.Rules {
			if !r.Active {
				continue
			}
			d := rules.Evaluate(r, snap)
			hit := !acted && d.Actionable(snap.Status)
			if hit {
				acted = true
			}
			out = append(out, result{Campaign: snap.ID, Status: string(snap.Status), Decision: d, Actionable: hit})
		}
	}
	return out
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rulecheck", flag.ContinueOnError)
	fs.SetOutput(stdout)
	o, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	f, err := rules.LoadFile(o.path)
	if err != nil {
		return err
	}
	if len(f.Campaigns) == 0 {
		return errors.New("rule file has no campaigns to check")
	}

	results := evaluate(f)
	if o.asJSON {
		enc := json.NewEncoder(stdout)
		for _, r := range results {
			if o.onlyHit && !r.Actionable {
				continue
			}
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CAMPAIGN\tSTATUS\tRULE\tACTION\tAPPLIES\tREASON")
	for _, r := range results {
		if o.onlyHit && !r.Actionable {
			continue
		}
		applies := "-"
		if r.Actionable {
			applies = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Campaign, r.Status, r.Decision.RuleName, r.Decision.Action, applies, r.Decision.Reason)
	}
	return tw.Flush()
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rulecheck: %v\n", err)
		os.Exit(1)
	}
}
