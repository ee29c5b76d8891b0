package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivityLog(t *testing.T) {
	t.Run("keeps insertion order below capacity", func(t *testing.T) {
		l := NewActivityLog(3)
		l.Add(Activity{IssueID: "A"})
		l.Add(Activity{IssueID: "B"})

		assert.Equal(t, 2, l.Len())
		assert.Equal(t, []string{"A", "B"}, issueIDs(l.Entries()))
	})

	t.Run("evicts oldest when full", func(t *testing.T) {
		l := NewActivityLog(3)
		for _, id := range []string{"A", "B", "C", "D", "E"} {
			l.Add(Activity{IssueID: id})
		}

		assert.Equal(t, 3, l.Len())
		assert.Equal(t, []string{"C", "D", "E"}, issueIDs(l.Entries()))
	})

	t.Run("capacity floor", func(t *testing.T) {
		l := NewActivityLog(0)
		l.Add(Activity{IssueID: "A"})
		l.Add(Activity{IssueID: "B"})

		assert.Equal(t, 1, l.Cap())
		assert.Equal(t, []string{"B"}, issueIDs(l.Entries()))
	})
}

func issueIDs(as []Activity) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.IssueID
	}
	return out
}
