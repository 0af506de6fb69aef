package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"campaign-autopilot/internal/automation"
)

type fakeStarter struct {
	users []string
	err   error
}

func (f *fakeStarter) Start(_ context.Context, user string) (bool, error) {
	f.users = append(f.users, user)
	return f.err == nil, f.err
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		err     error
		want    []string
	}{
		{"starts user's loop", "u1", nil, []string{"u1"}},
		{"empty payload ignored", "", nil, nil},
		{"no assignments tolerated", "u2", automation.ErrNoAssignments, []string{"u2"}},
		{"store error tolerated", "u3", errors.New("db down"), []string{"u3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStarter{err: tt.err}
			assert.NotPanics(t, func() { handle(context.Background(), s, tt.payload) })
			assert.Equal(t, tt.want, s.users)
		})
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
	assert.GreaterOrEqual(t, jitter(0), 500*time.Millisecond)
}
