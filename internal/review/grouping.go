package review

import "fmt"

type Header struct {
	URI   string `json:"uri"`
	Label string `json:"label"`
}

// ChangeListData is the display-ready arrangement of a change list. It is
// derived on every read and never stored.
type ChangeListData struct {
	AllChanges         []Change `json:"allChanges"`
	Headers            []Header `json:"headers"`
	GroupCounts        []int    `json:"groupCounts"`
	LastInGroupIndexes []int    `json:"lastInGroupIndexes"`
}

// IsLastInGroup reports whether the flattened index closes its group.
func (d ChangeListData) IsLastInGroup(index int) bool {
	for _, boundary := range d.LastInGroupIndexes {
		if boundary == index {
			return true
		}
	}
	return false
}

// BuildChangeList buckets changes by subject in first-seen order, keeping the
// original relative order inside each bucket.
func BuildChangeList(changes []Change) ChangeListData {
	order := make([]string, 0)
	buckets := make(map[string][]Change)
	for _, change := range changes {
		if _, ok := buckets[change.Subject]; !ok {
			order = append(order, change.Subject)
		}
		buckets[change.Subject] = append(buckets[change.Subject], change)
	}

	data := ChangeListData{
		AllChanges:         make([]Change, 0, len(changes)),
		Headers:            make([]Header, 0, len(order)),
		GroupCounts:        make([]int, 0, len(order)),
		LastInGroupIndexes: make([]int, 0, len(order)),
	}
	for _, subject := range order {
		bucket := buckets[subject]
		label := bucket[0].Label
		if label == "" {
			label = subject
		}
		data.Headers = append(data.Headers, Header{URI: subject, Label: label})
		data.AllChanges = append(data.AllChanges, bucket...)
		data.GroupCounts = append(data.GroupCounts, len(bucket))
		if len(data.LastInGroupIndexes) == 0 {
			data.LastInGroupIndexes = append(data.LastInGroupIndexes, len(bucket)-1)
		} else {
			previous := data.LastInGroupIndexes[len(data.LastInGroupIndexes)-1]
			data.LastInGroupIndexes = append(data.LastInGroupIndexes, previous+len(bucket))
		}
	}
	return data
}

// GenerateTriple renders the change as an N-Triples-like statement.
func GenerateTriple(change Change) string {
	return fmt.Sprintf("<%s>\n<%s>\n<%s> .", change.Subject, change.Predicate, change.Object.Value)
}
