package tabs

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/zjrosen/courier/internal/domain"
)

// ============================================================================
// Property-Based Tests for Tab Identity Invariants
// ============================================================================

var openFuncs = []domain.TabType{domain.TabTypeRequest, domain.TabTypeCollection, domain.TabTypeFolder}

func openByType(s *Store, tabType domain.TabType, p OpenParams) *domain.Tab {
	switch tabType {
	case domain.TabTypeCollection:
		return s.OpenCollection(p)
	case domain.TabTypeFolder:
		return s.OpenFolder(p)
	default:
		return s.OpenRequest(p)
	}
}

// checkInvariants asserts the identity rules hold for the current tab set.
func checkInvariants(t *rapid.T, s *Store) {
	tabs := s.Tabs()

	temporary := 0
	seen := make(map[string]bool, len(tabs))
	ids := make(map[string]bool, len(tabs))
	for _, tab := range tabs {
		if tab.IsTemporary {
			temporary++
		}
		if ids[tab.ID] {
			t.Fatalf("duplicate tab id %s", tab.ID)
		}
		ids[tab.ID] = true

		if tab.Type == domain.TabTypeRunner {
			if tab.RunID() != tab.Execution.ExecutionID {
				t.Fatalf("runner tab %s: run id %s != execution id %s", tab.ID, tab.RunID(), tab.Execution.ExecutionID)
			}
			continue
		}
		identity := fmt.Sprintf("%s|%s|%s", tab.Type, tab.CollectionID, tab.ResourceID)
		if seen[identity] {
			t.Fatalf("two tabs open for %s", identity)
		}
		seen[identity] = true
	}
	if temporary > 1 {
		t.Fatalf("%d temporary tabs open", temporary)
	}

	active := s.ActiveTabID()
	if len(tabs) == 0 && active != "" {
		t.Fatalf("active tab %s set on empty store", active)
	}
	if len(tabs) > 0 && !ids[active] {
		t.Fatalf("active tab %q is not open", active)
	}
}

// TestProperty_TabIdentityInvariants drives the store with random operation
// sequences and checks the identity rules after every step.
func TestProperty_TabIdentityInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		defer s.Close()

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 9).Draw(t, fmt.Sprintf("op-%d", i)) {
			case 0, 1, 2, 3, 4:
				tabType := rapid.SampledFrom(openFuncs).Draw(t, fmt.Sprintf("type-%d", i))
				p := OpenParams{
					CollectionID: rapid.SampledFrom([]string{"c1", "c2"}).Draw(t, fmt.Sprintf("coll-%d", i)),
					ResourceID:   rapid.SampledFrom([]string{"r1", "r2", "r3", "r4"}).Draw(t, fmt.Sprintf("res-%d", i)),
					Temporary:    rapid.Bool().Draw(t, fmt.Sprintf("temp-%d", i)),
				}
				openByType(s, tabType, p)
			case 5:
				s.OpenRunnerExecution(RunnerParams{CollectionID: "c1"})
			case 6, 7:
				if tabs := s.Tabs(); len(tabs) > 0 {
					idx := rapid.IntRange(0, len(tabs)-1).Draw(t, fmt.Sprintf("close-%d", i))
					_ = s.CloseTab(tabs[idx].ID)
				}
			case 8:
				if tabs := s.Tabs(); len(tabs) > 0 {
					idx := rapid.IntRange(0, len(tabs)-1).Draw(t, fmt.Sprintf("pin-%d", i))
					_ = s.ClearTemporaryFlag(tabs[idx].ID)
				}
			case 9:
				if tabs := s.Tabs(); len(tabs) > 0 {
					idx := rapid.IntRange(0, len(tabs)-1).Draw(t, fmt.Sprintf("reset-%d", i))
					_, _ = s.ResetExecution(tabs[idx].ID)
				}
			}
			checkInvariants(t, s)
		}
	})
}

// TestProperty_ReopenIsIdempotent verifies that opening the same resource
// twice never changes the number of open tabs.
func TestProperty_ReopenIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		defer s.Close()

		n := rapid.IntRange(1, 10).Draw(t, "preopened")
		for i := 0; i < n; i++ {
			s.OpenRequest(OpenParams{CollectionID: "c1", ResourceID: fmt.Sprintf("r%d", i)})
		}

		target := OpenParams{
			CollectionID: "c1",
			ResourceID:   fmt.Sprintf("r%d", rapid.IntRange(0, n-1).Draw(t, "target")),
			Temporary:    rapid.Bool().Draw(t, "temporary"),
		}
		before := s.Len()
		first := s.OpenRequest(target)
		second := s.OpenRequest(target)

		if s.Len() != before {
			t.Fatalf("re-open changed tab count from %d to %d", before, s.Len())
		}
		if first.ID != second.ID {
			t.Fatalf("re-open returned a different tab")
		}
		if s.ActiveTabID() != first.ID {
			t.Fatalf("re-open did not activate the tab")
		}
	})
}
