package engine

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/palisade/internal/iptables"
	"grimm.is/palisade/internal/metrics"
	"grimm.is/palisade/internal/policy"
)

// DriftReport compares the stored rule set against the live contents of
// the owned chains.
type DriftReport struct {
	InSync  bool     `json:"in_sync"`
	Checked int      `json:"checked_chains"`
	Missing []string `json:"missing_chains,omitempty"`
	Diff    string   `json:"diff,omitempty"`
}

// Drift renders what each owned chain should contain, reads what it
// actually contains, and reports the difference as a unified diff.
func (e *Engine) Drift() (*DriftReport, error) {
	rules, err := e.store.ListEnabled()
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	expectedByChain := make(map[string][]string)
	for i := range rules {
		r := &rules[i]
		owned, ok := policy.OwnedChainFor(r.Table, r.Chain)
		if !ok {
			continue
		}
		key := r.Table + "/" + owned
		line := strings.Join(iptables.BuildRuleArgs(iptables.OpAppend, owned, ruleSpec(r)), " ")
		expectedByChain[key] = append(expectedByChain[key], line)
	}

	report := &DriftReport{}
	var expected, live []string
	for _, slot := range policy.OwnedChainSlots() {
		report.Checked++
		key := slot.Table + "/" + slot.Chain
		header := "# " + key

		expected = append(expected, header)
		for _, line := range expectedByChain[key] {
			expected = append(expected, normalizeRuleLine(line))
		}

		live = append(live, header)
		listing, err := e.adapter.ListChain(slot.Table, slot.Chain)
		if err != nil {
			report.Missing = append(report.Missing, key)
			continue
		}
		for _, line := range listing {
			if !strings.HasPrefix(line, "-A ") {
				continue
			}
			live = append(live, normalizeRuleLine(line))
		}
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(expected, "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(live, "\n") + "\n"),
		FromFile: "stored",
		ToFile:   "live",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	report.Diff = text
	report.InSync = text == "" && len(report.Missing) == 0

	if report.InSync {
		e.log.Debug("no drift detected", "chains", report.Checked)
	} else {
		e.log.Warn("drift detected", "chains", report.Checked, "missing", len(report.Missing))
	}
	return report, nil
}

// CheckDrift runs one background drift check. The outcome feeds the
// drift gauge; an out-of-sync result also publishes a drift.detected
// event so watchers learn about out-of-band edits without polling.
func (e *Engine) CheckDrift() error {
	report, err := e.Drift()
	if err != nil {
		return err
	}

	metrics.Get().RecordDriftCheck(report.InSync)
	if !report.InSync {
		e.hub.EmitDrift(report.Checked, report.Missing)
	}
	return nil
}

// normalizeRuleLine smooths over cosmetic differences between what the
// engine renders and what the tool prints back: listings quote comment
// values and print host addresses with an explicit /32 suffix.
func normalizeRuleLine(line string) string {
	line = strings.ReplaceAll(line, `"`, "")
	fields := strings.Fields(line)
	for i, f := range fields {
		if (f == "-s" || f == "-d") && i+1 < len(fields) {
			fields[i+1] = strings.TrimSuffix(fields[i+1], "/32")
		}
	}
	return strings.Join(fields, " ")
}
