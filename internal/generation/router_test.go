package generation

import "testing"

func TestRouterSelectionIsDeterministic(t *testing.T) {
	r, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	first := r.SelectModel(TaskSectionExpansion, 1000, false)
	for i := 0; i < 10; i++ {
		got := r.SelectModel(TaskSectionExpansion, 1000, false)
		if got != first {
			t.Fatalf("selection changed between identical calls: %+v vs %+v", got, first)
		}
	}
	if first.ModelID == "" || first.MaxOutputTokens <= 0 {
		t.Fatalf("profile incomplete: %+v", first)
	}
}

func TestRouterEscalationRoutesToFallback(t *testing.T) {
	r, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	normal := r.SelectModel(TaskSectionExpansion, 1000, false)
	escalated := r.SelectModel(TaskSectionExpansion, 1000, true)
	if escalated.ModelID == normal.ModelID {
		t.Fatalf("escalated selection should differ from the default route, both %s", normal.ModelID)
	}
}

func TestRouterOversizedContextRoutesToFallback(t *testing.T) {
	r, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	big := r.ContextCutoff() + 1
	got := r.SelectModel(TaskSectionExpansion, big, false)
	want := r.SelectModel(TaskSectionExpansion, 0, true)
	if got != want {
		t.Fatalf("oversized context selected %+v, want fallback %+v", got, want)
	}
}

func TestRouterMetadataIgnoresEscalation(t *testing.T) {
	r, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	normal := r.SelectModel(TaskMetadata, 1000, false)
	escalated := r.SelectModel(TaskMetadata, 1000, true)
	if normal != escalated {
		t.Fatalf("metadata route should be fixed: %+v vs %+v", normal, escalated)
	}
}

func TestModelProfileCost(t *testing.T) {
	p := ModelProfile{CostPerKTokenIn: 1.0, CostPerKTokenOut: 2.0}
	got := p.Cost(1000, 500)
	if got != 2.0 {
		t.Fatalf("Cost = %v, want 2.0", got)
	}
}
