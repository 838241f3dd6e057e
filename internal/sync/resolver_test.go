package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestResolve_DecisionTable(t *testing.T) {
	const grace = 60 * time.Second

	cases := []struct {
		name   string
		local  Version
		remote Version
		want   Decision
	}{
		{"neither side", Version{}, Version{}, DecisionNone},
		{"local only", Version{Exists: true, UpdatedAt: at(100)}, Version{}, DecisionPushLocal},
		{"remote only valid", Version{}, Version{Exists: true, Valid: true, UpdatedAt: at(100)}, DecisionPullRemote},
		{"remote only invalid", Version{}, Version{Exists: true, Valid: false, UpdatedAt: at(100)}, DecisionNone},
		{"local strictly newer", Version{Exists: true, UpdatedAt: at(200)}, Version{Exists: true, Valid: true, UpdatedAt: at(100)}, DecisionPushLocal},
		{"remote newer beyond grace", Version{Exists: true, UpdatedAt: at(100)}, Version{Exists: true, Valid: true, UpdatedAt: at(170)}, DecisionPullRemote},
		{"remote newer exactly at grace", Version{Exists: true, UpdatedAt: at(100)}, Version{Exists: true, Valid: true, UpdatedAt: at(160)}, DecisionPullRemote},
		{"remote newer within grace", Version{Exists: true, UpdatedAt: at(100)}, Version{Exists: true, Valid: true, UpdatedAt: at(101)}, DecisionNone},
		{"remote newer beyond grace but invalid", Version{Exists: true, UpdatedAt: at(100)}, Version{Exists: true, Valid: false, UpdatedAt: at(130)}, DecisionNone},
		{"equal timestamps", Version{Exists: true, UpdatedAt: at(100)}, Version{Exists: true, Valid: true, UpdatedAt: at(100)}, DecisionNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Resolve(c.local, c.remote, grace))
		})
	}
}

// Racing dual-device updates 0.5s apart must not flap: both directions
// resolve to no-op inside the grace window.
func TestResolve_NoFlappingInsideGrace(t *testing.T) {
	const grace = 60 * time.Second
	a := Version{Exists: true, UpdatedAt: at(100)}
	b := Version{Exists: true, Valid: true, UpdatedAt: at(100).Add(500 * time.Millisecond)}

	assert.Equal(t, DecisionNone, Resolve(a, b, grace))
	assert.Equal(t, DecisionPushLocal, Resolve(Version{Exists: true, UpdatedAt: b.UpdatedAt}, Version{Exists: true, Valid: true, UpdatedAt: a.UpdatedAt}, grace))
}

// The decision is a pure function: same inputs, same verdict, every time.
func TestResolve_Deterministic(t *testing.T) {
	local := Version{Exists: true, UpdatedAt: at(100)}
	remote := Version{Exists: true, Valid: true, UpdatedAt: at(170)}
	first := Resolve(local, remote, 60*time.Second)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Resolve(local, remote, 60*time.Second))
	}
}

func TestResolve_ConfigurableGrace(t *testing.T) {
	local := Version{Exists: true, UpdatedAt: at(100)}
	remote := Version{Exists: true, Valid: true, UpdatedAt: at(110)}

	assert.Equal(t, DecisionNone, Resolve(local, remote, 60*time.Second))
	assert.Equal(t, DecisionPullRemote, Resolve(local, remote, 5*time.Second))
}
