package review

// Summary counts review progress. ROLLBACKED changes count toward nothing.
type Summary struct {
	Remaining int `json:"remaining"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
}

func Summarize(changes []Change) Summary {
	var summary Summary
	for _, change := range changes {
		if change.Type == ChangeRollbacked {
			continue
		}
		switch change.State {
		case StateNotReviewed:
			summary.Remaining++
		case StateApproved:
			summary.Approved++
		case StateRejected:
			summary.Rejected++
		}
	}
	return summary
}

func (s Summary) Add(other Summary) Summary {
	return Summary{
		Remaining: s.Remaining + other.Remaining,
		Approved:  s.Approved + other.Approved,
		Rejected:  s.Rejected + other.Rejected,
	}
}

func (s Summary) Total() int {
	return s.Remaining + s.Approved + s.Rejected
}

// Finished uses the same ROLLBACKED exclusion as Summarize.
func Finished(changes []Change) bool {
	return Summarize(changes).Remaining == 0
}
