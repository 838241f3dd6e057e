package orders

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberSource supplies the full set of assigned order numbers, loaded once
// per generation call.
type NumberSource interface {
	OrderNumbers(ctx context.Context) ([]string, error)
}

// NumberGenerator produces unique, display-safe order numbers. Strategies
// are tried in priority order: timestamp code, date-scoped sequence,
// truncated random id, then an emergency fully-random id. Generation never
// fails to return a value.
type NumberGenerator struct {
	src  NumberSource
	now  func() time.Time
	intn func(int) int
}

const (
	numberPrefix      = "ORD"
	timestampAttempts = 5
	sequenceAttempts  = 5
	randomAttempts    = 2
)

func NewNumberGenerator(src NumberSource) *NumberGenerator {
	return &NumberGenerator{src: src, now: time.Now, intn: rand.Intn}
}

// Next returns a fresh order number disjoint from every existing one. A
// failure to load existing numbers degrades to the emergency strategy
// rather than failing the caller.
func (g *NumberGenerator) Next(ctx context.Context) string {
	existing := make(map[string]struct{})
	if nums, err := g.src.OrderNumbers(ctx); err == nil {
		for _, n := range nums {
			existing[n] = struct{}{}
		}
	} else {
		return strings.ToUpper(uuid.NewString())
	}

	now := g.now().UTC()
	day := now.Format("20060102")

	// 1) timestamp-derived: date + sub-second precision + small random part
	for i := 0; i < timestampAttempts; i++ {
		c := fmt.Sprintf("%s_%s_%s%03d_%02d",
			numberPrefix, day, now.Format("150405"), now.Nanosecond()/1e6, g.intn(100))
		if ok(c, existing) {
			return c
		}
	}

	// 2) date-scoped monotonic sequence above the highest same-day number
	seq := g.maxDaySequence(existing, day) + 1
	for i := 0; i < sequenceAttempts; i++ {
		c := fmt.Sprintf("%s_%s_%03d", numberPrefix, day, seq+i)
		if ok(c, existing) {
			return c
		}
	}

	// 3) truncated random identifier
	for i := 0; i < randomAttempts; i++ {
		c := fmt.Sprintf("%s_%s", numberPrefix, strings.ToUpper(uuid.NewString()[:8]))
		if ok(c, existing) {
			return c
		}
	}

	return strings.ToUpper(uuid.NewString())
}

func ok(candidate string, existing map[string]struct{}) bool {
	if !ValidNumber(candidate) {
		return false
	}
	_, taken := existing[candidate]
	return !taken
}

func (g *NumberGenerator) maxDaySequence(existing map[string]struct{}, day string) int {
	prefix := fmt.Sprintf("%s_%s_", numberPrefix, day)
	max := 0
	for n := range existing {
		rest, found := strings.CutPrefix(n, prefix)
		if !found {
			continue
		}
		v, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}

// ValidNumber is the display-safety gate: bounded length, alphanumeric plus
// hyphen and underscore.
func ValidNumber(s string) bool {
	if len(s) < 6 || len(s) > 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
