package engine

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"grimm.is/palisade/internal/events"
	"grimm.is/palisade/internal/policy"
)

func TestApply_ReplaysAcrossTables(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	filterRule := mustCreate(t, env, acceptRule("filter", "INPUT", "22"))
	natRule := mustCreate(t, env, policy.Rule{
		Table: "nat", Chain: "PREROUTING", Action: "DNAT",
		Protocol: "tcp", Port: "8080", ToDestination: "10.0.0.5:80", Enabled: true,
	})
	rawRule := mustCreate(t, env, policy.Rule{
		Table: "raw", Chain: "PREROUTING", Action: "NOTRACK",
		Protocol: "udp", Port: "53", Enabled: true,
	})

	if got := env.fw.rules("filter", "PALISADE_INPUT"); len(got) != 1 || !strings.Contains(got[0], "ID_"+filterRule.ID) {
		t.Errorf("filter owned chain = %v", got)
	}
	natLines := env.fw.rules("nat", "PALISADE_PREROUTING")
	if len(natLines) != 1 {
		t.Fatalf("nat owned chain = %v", natLines)
	}
	if !strings.Contains(natLines[0], "-j DNAT --to-destination 10.0.0.5:80") {
		t.Errorf("nat rule = %q, missing DNAT target", natLines[0])
	}
	if !strings.Contains(natLines[0], "ID_"+natRule.ID) {
		t.Errorf("nat rule = %q, missing id tag", natLines[0])
	}
	rawLines := env.fw.rules("raw", "PALISADE_PREROUTING_RAW")
	if len(rawLines) != 1 || !strings.Contains(rawLines[0], "ID_"+rawRule.ID) {
		t.Errorf("raw owned chain = %v", rawLines)
	}
}

func TestApply_SkipsUnmappableRules(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	mustCreate(t, env, acceptRule("filter", "INPUT", "22"))

	// bypass validation to store a rule no owned chain can host
	stray := acceptRule("raw", "FORWARD", "99")
	stray.ID = "stray-rule"
	now := time.Now()
	stray.CreatedAt, stray.UpdatedAt = now, now
	if err := env.store.CreateRule(&stray); err != nil {
		t.Fatalf("seeding stray rule: %v", err)
	}

	result, err := env.engine.Apply("test", "manual")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.OK {
		t.Errorf("result not OK: %+v", result)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.RuleCount != 2 {
		t.Errorf("RuleCount = %d, want 2", result.RuleCount)
	}
}

func TestApply_CountsFailuresAndContinues(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	a := mustCreate(t, env, acceptRule("filter", "INPUT", "22"))
	mustCreate(t, env, acceptRule("filter", "INPUT", "80"))
	c := mustCreate(t, env, acceptRule("filter", "INPUT", "443"))

	env.fw.failOn = func(args []string) error {
		if strings.Contains(strings.Join(args, " "), "--dport 80") {
			return fmt.Errorf("iptables: Invalid argument. Run `dmesg' for more information.")
		}
		return nil
	}
	result, err := env.engine.Apply("test", "manual")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.OK {
		t.Error("result OK despite a failed rule")
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if result.RuleCount != 3 {
		t.Errorf("RuleCount = %d, want 3", result.RuleCount)
	}

	// the rules around the failure still landed
	got := env.fw.rules("filter", "PALISADE_INPUT")
	want := []string{appliedLine("22", a.ID), appliedLine("443", c.ID)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("live chain = %v, want %v", got, want)
	}
}

func TestApply_MutationCommitsDespiteApplyFailure(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	env.fw.failOn = func(args []string) error {
		if len(args) > 2 && args[2] == "-A" {
			return fmt.Errorf("iptables: Invalid argument. Run `dmesg' for more information.")
		}
		return nil
	}
	created, result, err := env.engine.CreateRule("test", acceptRule("filter", "INPUT", "22"))
	if err != nil {
		t.Fatalf("create returned error despite committed rule: %v", err)
	}
	if result.OK {
		t.Error("apply result OK despite failing appends")
	}

	stored, err := env.engine.GetRule(created.ID)
	if err != nil {
		t.Fatalf("rule not stored: %v", err)
	}
	if stored.Port != "22" {
		t.Errorf("stored rule = %+v", stored)
	}
}

func TestApply_EmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	mustCreate(t, env, acceptRule("filter", "INPUT", "22"))

	ch := env.engine.Events().Subscribe(8, events.EventApplyCompleted)
	defer env.engine.Events().Unsubscribe(ch)

	if _, err := env.engine.Apply("test", "manual"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	select {
	case ev := <-ch:
		data, ok := ev.Data.(events.ApplyData)
		if !ok {
			t.Fatalf("payload type %T", ev.Data)
		}
		if !data.OK || data.RuleCount != 1 || data.Trigger != "manual" {
			t.Errorf("payload = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no apply event received")
	}
}

func TestApply_ConcurrentRunsStaySerialized(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	a := mustCreate(t, env, acceptRule("filter", "INPUT", "22"))
	b := mustCreate(t, env, acceptRule("filter", "INPUT", "80"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Apply("test", "manual"); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	// interleaved flush and append phases would leave duplicates or gaps
	got := env.fw.rules("filter", "PALISADE_INPUT")
	want := []string{appliedLine("22", a.ID), appliedLine("80", b.ID)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("live chain after concurrent applies = %v, want %v", got, want)
	}
}

func TestSave_WritesRulesFile(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Save("admin"); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(env.savePath)
	if err != nil {
		t.Fatalf("reading saved rules: %v", err)
	}
	if !strings.Contains(string(data), "fake ruleset dump") {
		t.Errorf("saved file = %q", data)
	}
}
