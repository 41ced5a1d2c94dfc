package review

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func reviewable(state ChangeState) Change {
	return Change{
		ID:              "c1",
		URI:             "http://example.org/change/1",
		State:           state,
		Gestored:        true,
		VocabularyURI:   "v",
		PublicationID:   "p",
		PublicationDate: "2024-03-01T10:00:00Z",
	}
}

func TestPlanPicksOperation(t *testing.T) {
	grouped := reviewable(StateNotReviewed)
	grouped.URI = "grouped/u1"
	grouped.ID = "grouped/1"
	grouped.Object.Restriction = &Restriction{AffectedChanges: []AffectedChange{{URI: "u1", ID: "1"}, {URI: "u2", ID: "2"}}}
	groupedRejected := grouped
	groupedRejected.State = StateRejected

	cases := []struct {
		name   string
		change Change
		target ChangeState
		op     Operation
	}{
		{name: "approve", change: reviewable(StateNotReviewed), target: StateApproved, op: OpResolve},
		{name: "reject", change: reviewable(StateNotReviewed), target: StateRejected, op: OpResolve},
		{name: "clear rejected", change: reviewable(StateRejected), target: StateNotReviewed, op: OpClearReview},
		{name: "clear approved", change: reviewable(StateApproved), target: StateNotReviewed, op: OpClearReview},
		{name: "approve restriction", change: grouped, target: StateApproved, op: OpResolveRestriction},
		{name: "clear restriction", change: groupedRejected, target: StateNotReviewed, op: OpClearRestriction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Plan(tc.change, tc.target, "")
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if got.Op != tc.op {
				t.Fatalf("op = %s, want %s", got.Op, tc.op)
			}
			if got.VersionDate != tc.change.PublicationDate {
				t.Fatalf("versionDate = %q", got.VersionDate)
			}
			if got.Restriction() {
				if diff := cmp.Diff([]string{"u1", "u2"}, got.AffectedURIs); diff != "" {
					t.Fatalf("affected uris mismatch (-want +got):\n%s", diff)
				}
			}
			if got.Fields().State != tc.target {
				t.Fatalf("post-image state = %s", got.Fields().State)
			}
		})
	}
}

func TestPlanRefusesWithoutPermission(t *testing.T) {
	notGestored := reviewable(StateNotReviewed)
	notGestored.Gestored = false
	readOnly := reviewable(StateNotReviewed)
	readOnly.ReadOnly = true

	for name, change := range map[string]Change{"not gestored": notGestored, "read only": readOnly} {
		t.Run(name, func(t *testing.T) {
			_, err := Plan(change, StateApproved, "")
			if !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("expected ErrPermissionDenied, got %v", err)
			}
		})
	}
}

func TestPlanRefusesInvalidTransitions(t *testing.T) {
	cases := []struct {
		name   string
		from   ChangeState
		target ChangeState
	}{
		{name: "clear unreviewed", from: StateNotReviewed, target: StateNotReviewed},
		{name: "approve approved", from: StateApproved, target: StateApproved},
		{name: "flip rejected to approved", from: StateRejected, target: StateApproved},
		{name: "unknown target", from: StateNotReviewed, target: "MAYBE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(reviewable(tc.from), tc.target, "")
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestPlanDeclineMessageOnlyForRejection(t *testing.T) {
	rejected, err := Plan(reviewable(StateNotReviewed), StateRejected, "  not a skos concept ")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if rejected.Fields().DeclineMessage != "not a skos concept" {
		t.Fatalf("decline message = %q", rejected.Fields().DeclineMessage)
	}

	approved, err := Plan(reviewable(StateNotReviewed), StateApproved, "ignored")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if approved.Fields().DeclineMessage != "" {
		t.Fatalf("expected no decline message on approval, got %q", approved.Fields().DeclineMessage)
	}

	withMessage := reviewable(StateRejected)
	withMessage.DeclineMessage = "old"
	cleared, err := Plan(withMessage, StateNotReviewed, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if cleared.Fields() != (ChangeFields{State: StateNotReviewed}) {
		t.Fatalf("clear post-image = %+v", cleared.Fields())
	}
}

func TestPlanPublication(t *testing.T) {
	got, err := PlanPublication(Publication{ID: "p", State: "WAITING_FOR_OTHERS"}, true, " ok ")
	if err != nil {
		t.Fatalf("PlanPublication: %v", err)
	}
	if got.Fields() != (PublicationFields{State: PublicationApproved, ClosingComment: "ok"}) {
		t.Fatalf("fields = %+v", got.Fields())
	}

	_, err = PlanPublication(Publication{ID: "p", State: PublicationRejected}, true, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for closed publication, got %v", err)
	}
}

func TestSummarizeExcludesRollbacked(t *testing.T) {
	changes := []Change{
		{State: StateNotReviewed, Type: ChangeCreated},
		{State: StateApproved, Type: ChangeRemoved},
		{State: StateRejected, Type: ChangeModified},
		{State: StateNotReviewed, Type: ChangeRollbacked},
	}
	got := Summarize(changes)
	if got != (Summary{Remaining: 1, Approved: 1, Rejected: 1}) {
		t.Fatalf("summary = %+v", got)
	}
	if Finished(changes) {
		t.Fatalf("expected unfinished with one remaining change")
	}
	if !Finished(changes[1:]) {
		t.Fatalf("expected finished once only ROLLBACKED changes are unreviewed")
	}
	if total := got.Add(Summary{Remaining: 2}).Total(); total != 5 {
		t.Fatalf("total = %d", total)
	}
}
