package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func turns(n int) []Turn {
	out := make([]Turn, n)
	for i := range out {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out[i] = Turn{Role: role, Text: fmt.Sprintf("t%d", i)}
	}
	return out
}

func TestWindowIsTailOfHistory(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 5, 10, 11, 37} {
		for _, k := range []int{1, 3, 10} {
			all := turns(n)
			got := Window(all, k)

			want := min(n, k)
			assert.Len(t, got, want, "n=%d k=%d", n, k)
			if diff := cmp.Diff(all[n-want:], got, cmpEmpty); diff != "" {
				t.Errorf("n=%d k=%d window mismatch (-want +got):\n%s", n, k, diff)
			}
		}
	}
}

var cmpEmpty = cmp.Comparer(func(a, b []Turn) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return cmp.Equal(a, b)
})

func TestWindowDoesNotAlias(t *testing.T) {
	all := turns(4)
	w := Window(all, 2)
	w[0].Text = "changed"
	assert.Equal(t, "t2", all[2].Text)
}

func TestAppendAndClone(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New("alice")
	h.Append(RoleUser, "oi", at)
	h.Append(RoleAssistant, "olá!", at.Add(time.Second))

	c := h.Clone()
	c.Turns[0].Text = "mutated"
	c.Append(RoleUser, "mais", at.Add(2*time.Second))

	assert.Equal(t, "oi", h.Turns[0].Text)
	assert.Len(t, h.Turns, 2)
	assert.Equal(t, at.Add(time.Second), h.UpdatedAt)
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
