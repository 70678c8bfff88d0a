package workflow

import "testing"

func TestPhaseOrderIsForwardOnly(t *testing.T) {
	phases := Phases()
	if len(phases) != 4 {
		t.Fatalf("expected 4 phases, got %d", len(phases))
	}
	for i, p := range phases {
		if int(p) != i {
			t.Fatalf("phase %s has ordinal %d, want %d", p, int(p), i)
		}
		if i < len(phases)-1 && p.Next() != phases[i+1] {
			t.Fatalf("%s.Next() = %s, want %s", p, p.Next(), phases[i+1])
		}
	}
	if PhaseChapterWriting.Next() != PhaseChapterWriting {
		t.Fatalf("terminal phase must not advance")
	}
	if !PhaseChapterWriting.IsTerminal() || PhaseChaptering.IsTerminal() {
		t.Fatalf("only CHAPTER_WRITING is terminal")
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(2)
	if err != nil || p != PhaseChaptering {
		t.Fatalf("ParsePhase(2) = %v, %v", p, err)
	}
	if _, err := ParsePhase(4); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
	if _, err := ParsePhase(-1); err == nil {
		t.Fatalf("expected error for negative phase")
	}
}

func TestPhaseNames(t *testing.T) {
	if PhaseWorldSetup.String() != "WORLD_SETUP" {
		t.Fatalf("unexpected name %q", PhaseWorldSetup.String())
	}
	if PhaseChapterWriting.FriendlyName() != "Chapter Writing" {
		t.Fatalf("unexpected friendly name %q", PhaseChapterWriting.FriendlyName())
	}
	if Phase(9).String() != "UNKNOWN" {
		t.Fatalf("unknown phase should stringify as UNKNOWN")
	}
}
