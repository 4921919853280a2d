package store

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"grimm.is/palisade/internal/logging"
	"grimm.is/palisade/internal/policy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	log := logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
	s, err := New(":memory:", log)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRule(id, table, chain, action string, position int) policy.Rule {
	now := time.Now().UTC()
	return policy.Rule{
		ID:        id,
		Table:     table,
		Chain:     chain,
		Action:    action,
		Order:     position,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNew_FileBackend(t *testing.T) {
	log := logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
	path := filepath.Join(t.TempDir(), "nested", "policy.db")

	s, err := New(path, log)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	r := makeRule("r1", "filter", "INPUT", "ACCEPT", 0)
	if err := s.CreateRule(&r); err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	s.Close()

	// Reopen and verify the rule survived
	s2, err := New(path, log)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetRule("r1")
	if err != nil {
		t.Fatalf("failed to get rule after reopen: %v", err)
	}
	if got.Action != "ACCEPT" || got.Chain != "INPUT" {
		t.Errorf("unexpected rule after reopen: %+v", got)
	}
}

func TestRuleCRUD(t *testing.T) {
	s := newTestStore(t)

	r := makeRule("r1", "filter", "INPUT", "ACCEPT", 0)
	r.Protocol = "tcp"
	r.Port = "22"
	r.Comment = "allow ssh"

	if err := s.CreateRule(&r); err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	got, err := s.GetRule("r1")
	if err != nil {
		t.Fatalf("failed to get rule: %v", err)
	}
	if got.Protocol != "tcp" || got.Port != "22" || got.Comment != "allow ssh" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.Enabled {
		t.Error("expected rule to be enabled")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should survive the round-trip")
	}

	// Update
	got.Action = "DROP"
	got.Enabled = false
	if err := s.UpdateRule(got); err != nil {
		t.Fatalf("failed to update rule: %v", err)
	}

	updated, _ := s.GetRule("r1")
	if updated.Action != "DROP" || updated.Enabled {
		t.Errorf("update not applied: %+v", updated)
	}

	// Update of a missing rule
	missing := makeRule("nope", "filter", "INPUT", "ACCEPT", 0)
	if err := s.UpdateRule(&missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Delete
	if err := s.DeleteRule("r1"); err != nil {
		t.Fatalf("failed to delete rule: %v", err)
	}
	if _, err := s.GetRule("r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteRule("r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)

	// Insert out of order across two groups
	rules := []policy.Rule{
		makeRule("b2", "filter", "INPUT", "DROP", 2),
		makeRule("b0", "filter", "INPUT", "ACCEPT", 0),
		makeRule("b1", "filter", "INPUT", "LOG", 1),
		makeRule("n0", "nat", "PREROUTING", "DNAT", 0),
	}
	for i := range rules {
		if err := s.CreateRule(&rules[i]); err != nil {
			t.Fatalf("failed to create rule %s: %v", rules[i].ID, err)
		}
	}

	group, err := s.ListGroup("filter", "INPUT")
	if err != nil {
		t.Fatalf("failed to list group: %v", err)
	}
	if len(group) != 3 {
		t.Fatalf("expected 3 rules in group, got %d", len(group))
	}
	for i, want := range []string{"b0", "b1", "b2"} {
		if group[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, group[i].ID)
		}
	}

	all, err := s.ListRules()
	if err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(all))
	}
	// filter sorts before nat
	if all[0].Table != "filter" || all[3].Table != "nat" {
		t.Errorf("unexpected table ordering: %s ... %s", all[0].Table, all[3].Table)
	}
}

func TestListEnabled(t *testing.T) {
	s := newTestStore(t)

	on := makeRule("on", "filter", "INPUT", "ACCEPT", 0)
	off := makeRule("off", "filter", "INPUT", "DROP", 1)
	off.Enabled = false

	if err := s.CreateRule(&on); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRule(&off); err != nil {
		t.Fatal(err)
	}

	enabled, err := s.ListEnabled()
	if err != nil {
		t.Fatalf("failed to list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "on" {
		t.Errorf("expected only the enabled rule, got %+v", enabled)
	}
}

func TestMaxPosition(t *testing.T) {
	s := newTestStore(t)

	max, err := s.MaxPosition("filter", "INPUT")
	if err != nil {
		t.Fatalf("failed on empty group: %v", err)
	}
	if max != -1 {
		t.Errorf("expected -1 for empty group, got %d", max)
	}

	r := makeRule("r1", "filter", "INPUT", "ACCEPT", 4)
	if err := s.CreateRule(&r); err != nil {
		t.Fatal(err)
	}

	max, _ = s.MaxPosition("filter", "INPUT")
	if max != 4 {
		t.Errorf("expected 4, got %d", max)
	}

	// Other groups unaffected
	max, _ = s.MaxPosition("nat", "PREROUTING")
	if max != -1 {
		t.Errorf("expected -1 for other group, got %d", max)
	}
}

func TestUpdatePositions(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"a", "b", "c"} {
		r := makeRule(id, "filter", "INPUT", "ACCEPT", i)
		if err := s.CreateRule(&r); err != nil {
			t.Fatal(err)
		}
	}

	err := s.UpdatePositions([]policy.OrderAssignment{
		{ID: "a", Order: 2},
		{ID: "b", Order: 0},
		{ID: "c", Order: 1},
	})
	if err != nil {
		t.Fatalf("failed to update positions: %v", err)
	}

	group, _ := s.ListGroup("filter", "INPUT")
	for i, want := range []string{"b", "c", "a"} {
		if group[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, group[i].ID)
		}
	}

	// A missing id rolls the whole batch back
	err = s.UpdatePositions([]policy.OrderAssignment{
		{ID: "b", Order: 9},
		{ID: "ghost", Order: 1},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	group, _ = s.ListGroup("filter", "INPUT")
	if group[0].ID != "b" || group[0].Order != 0 {
		t.Errorf("failed batch should not be applied, got %+v", group[0])
	}
}

func TestCountRulesByTable(t *testing.T) {
	s := newTestStore(t)

	for i, table := range []string{"filter", "filter", "nat"} {
		r := makeRule(string(rune('a'+i)), table, "INPUT", "ACCEPT", i)
		if err := s.CreateRule(&r); err != nil {
			t.Fatal(err)
		}
	}

	total, err := s.CountRules()
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("expected 3 rules, got %d", total)
	}

	counts, err := s.CountRulesByTable()
	if err != nil {
		t.Fatal(err)
	}
	if counts["filter"] != 2 || counts["nat"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestReplaceAllRules(t *testing.T) {
	s := newTestStore(t)

	old := makeRule("old", "filter", "INPUT", "ACCEPT", 0)
	if err := s.CreateRule(&old); err != nil {
		t.Fatal(err)
	}

	err := s.ReplaceAllRules([]policy.Rule{
		makeRule("new1", "filter", "INPUT", "DROP", 0),
		makeRule("new2", "nat", "PREROUTING", "DNAT", 0),
	})
	if err != nil {
		t.Fatalf("failed to replace rules: %v", err)
	}

	if _, err := s.GetRule("old"); !errors.Is(err, ErrNotFound) {
		t.Error("old rule should be gone after replace")
	}
	total, _ := s.CountRules()
	if total != 2 {
		t.Errorf("expected 2 rules after replace, got %d", total)
	}
}

func TestExtensionChains(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	ec := policy.ExtensionChain{
		ID:          "ec1",
		ExtensionID: "wireguard",
		ChainName:   "WG_INPUT",
		ParentChain: "INPUT",
		Table:       "filter",
		Priority:    50,
		CreatedAt:   now,
	}
	if err := s.CreateExtensionChain(&ec); err != nil {
		t.Fatalf("failed to create extension chain: %v", err)
	}

	// Chain names are globally unique, even across tables
	dup := ec
	dup.ID = "ec2"
	dup.ExtensionID = "other"
	dup.Table = "mangle"
	dup.ParentChain = "PREROUTING"
	if err := s.CreateExtensionChain(&dup); !errors.Is(err, ErrDuplicateChain) {
		t.Errorf("expected ErrDuplicateChain, got %v", err)
	}

	got, err := s.GetExtensionChain("ec1")
	if err != nil {
		t.Fatalf("failed to get extension chain: %v", err)
	}
	if got.ChainName != "WG_INPUT" || got.ExtensionID != "wireguard" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	byName, err := s.GetExtensionChainByName("WG_INPUT")
	if err != nil {
		t.Fatalf("failed to get by name: %v", err)
	}
	if byName.ID != "ec1" {
		t.Errorf("expected ec1, got %s", byName.ID)
	}

	if _, err := s.GetExtensionChain("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetExtensionChainByName("GHOST"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound by name, got %v", err)
	}

	// Re-registration with changed placement
	moved := ec
	moved.ParentChain = "FORWARD"
	moved.Priority = 70
	if err := s.UpdateExtensionChain(&moved); err != nil {
		t.Fatalf("failed to update extension chain: %v", err)
	}
	got, _ = s.GetExtensionChain("ec1")
	if got.ParentChain != "FORWARD" || got.Priority != 70 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestExtensionChainJumpOrder(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	chains := []policy.ExtensionChain{
		{ID: "c1", ExtensionID: "x1", ChainName: "ZEBRA", ParentChain: "INPUT", Table: "filter", Priority: 10, CreatedAt: now},
		{ID: "c2", ExtensionID: "x2", ChainName: "ALPHA", ParentChain: "INPUT", Table: "filter", Priority: 50, CreatedAt: now},
		{ID: "c3", ExtensionID: "x2", ChainName: "BETA", ParentChain: "INPUT", Table: "filter", Priority: 50, CreatedAt: now},
		{ID: "c4", ExtensionID: "x3", ChainName: "OTHER", ParentChain: "FORWARD", Table: "filter", Priority: 1, CreatedAt: now},
	}
	for i := range chains {
		if err := s.CreateExtensionChain(&chains[i]); err != nil {
			t.Fatalf("failed to create %s: %v", chains[i].ChainName, err)
		}
	}

	hooked, err := s.ListExtensionChainsFor("filter", "INPUT")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	// Ascending priority, name breaks ties; FORWARD chain excluded
	want := []string{"ZEBRA", "ALPHA", "BETA"}
	if len(hooked) != len(want) {
		t.Fatalf("expected %d chains, got %d", len(want), len(hooked))
	}
	for i := range want {
		if hooked[i].ChainName != want[i] {
			t.Errorf("jump order %d: expected %s, got %s", i, want[i], hooked[i].ChainName)
		}
	}

	byExt, err := s.ListExtensionChainsByExtension("x2")
	if err != nil {
		t.Fatal(err)
	}
	if len(byExt) != 2 {
		t.Errorf("expected 2 chains for x2, got %d", len(byExt))
	}
}

func TestUpdateChainPriorities(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	for _, c := range []policy.ExtensionChain{
		{ID: "c1", ExtensionID: "x", ChainName: "ONE", ParentChain: "INPUT", Table: "filter", Priority: 10, CreatedAt: now},
		{ID: "c2", ExtensionID: "x", ChainName: "TWO", ParentChain: "INPUT", Table: "filter", Priority: 20, CreatedAt: now},
	} {
		c := c
		if err := s.CreateExtensionChain(&c); err != nil {
			t.Fatal(err)
		}
	}

	err := s.UpdateChainPriorities([]policy.PriorityAssignment{
		{ID: "c1", Priority: 90},
		{ID: "c2", Priority: 5},
	})
	if err != nil {
		t.Fatalf("failed to update priorities: %v", err)
	}

	hooked, _ := s.ListExtensionChainsFor("filter", "INPUT")
	if hooked[0].ChainName != "TWO" || hooked[1].ChainName != "ONE" {
		t.Errorf("expected TWO before ONE, got %s, %s", hooked[0].ChainName, hooked[1].ChainName)
	}

	// Delete and verify
	if err := s.DeleteExtensionChain("c1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := s.DeleteExtensionChain("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestStoreClosed(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	r := makeRule("r1", "filter", "INPUT", "ACCEPT", 0)
	if err := s.CreateRule(&r); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.ListRules(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.ListExtensionChains(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
