package workflow

import "fmt"

// Phase is one discrete step of the workflow state machine.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseBuild    Phase = "build"
	PhaseTest     Phase = "test"
	PhaseReview   Phase = "review"
	PhaseDocument Phase = "document"
	PhaseShip     Phase = "ship"
	PhasePatch    Phase = "patch"
)

// ValidPhases lists every phase name accepted in completed_phases.
var ValidPhases = map[Phase]bool{
	PhasePlan:     true,
	PhaseBuild:    true,
	PhaseTest:     true,
	PhaseReview:   true,
	PhaseDocument: true,
	PhaseShip:     true,
	PhasePatch:    true,
}

// ParsePhase converts a string into a Phase
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhases[p] {
		return "", fmt.Errorf("unknown phase %q (expected plan, build, test, review, document, ship or patch)", s)
	}
	return p, nil
}

// String returns the phase name
func (p Phase) String() string {
	return string(p)
}

// IsImplementation reports whether the phase produces the change set
// that later phases verify and ship.
func (p Phase) IsImplementation() bool {
	return p == PhaseBuild || p == PhasePatch
}

// Composition is a named, ordered chain of phases run by a single command.
type Composition struct {
	Name   string
	Phases []Phase
}

// Known compositions. Patch compositions start their own chain without Plan.
var (
	CompositionSDLC = Composition{
		Name:   "sdlc",
		Phases: []Phase{PhasePlan, PhaseBuild, PhaseTest, PhaseReview, PhaseDocument, PhaseShip},
	}
	CompositionPlanBuild = Composition{
		Name:   "plan_build",
		Phases: []Phase{PhasePlan, PhaseBuild},
	}
	CompositionPlanBuildTest = Composition{
		Name:   "plan_build_test",
		Phases: []Phase{PhasePlan, PhaseBuild, PhaseTest},
	}
	CompositionPlanBuildReview = Composition{
		Name:   "plan_build_review",
		Phases: []Phase{PhasePlan, PhaseBuild, PhaseReview},
	}
	CompositionPatch = Composition{
		Name:   "patch",
		Phases: []Phase{PhasePatch, PhaseTest, PhaseReview, PhaseDocument, PhaseShip},
	}
	CompositionPatchShip = Composition{
		Name:   "patch_ship",
		Phases: []Phase{PhasePatch, PhaseShip},
	}
)

var compositions = map[string]Composition{
	CompositionSDLC.Name:            CompositionSDLC,
	CompositionPlanBuild.Name:       CompositionPlanBuild,
	CompositionPlanBuildTest.Name:   CompositionPlanBuildTest,
	CompositionPlanBuildReview.Name: CompositionPlanBuildReview,
	CompositionPatch.Name:           CompositionPatch,
	CompositionPatchShip.Name:       CompositionPatchShip,
}

// LookupComposition returns the composition registered under name
func LookupComposition(name string) (Composition, error) {
	c, ok := compositions[name]
	if !ok {
		return Composition{}, fmt.Errorf("unknown composition %q", name)
	}
	return c, nil
}

// Entry returns the first phase of the composition.
func (c Composition) Entry() Phase {
	if len(c.Phases) == 0 {
		return ""
	}
	return c.Phases[0]
}

// Remaining returns the phases of the composition not yet present in completed,
// preserving order.
func (c Composition) Remaining(completed []Phase) []Phase {
	done := make(map[Phase]bool, len(completed))
	for _, p := range completed {
		done[p] = true
	}
	var out []Phase
	for _, p := range c.Phases {
		if !done[p] {
			out = append(out, p)
		}
	}
	return out
}
