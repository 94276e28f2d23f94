package tier

import (
	"fmt"
	"time"
)

// Tier is the closed set of quota classes. An unknown tier value cannot be
// represented; anything unparseable resolves to Free at the boundary.
type Tier int

const (
	Anonymous Tier = iota
	Free
	Plus
	Pro
	Admin
)

var tierNames = [...]string{"anonymous", "free", "plus", "pro", "admin"}

func (t Tier) String() string {
	if t < Anonymous || t > Admin {
		return "free"
	}
	return tierNames[t]
}

// Maps a stored tier name to its enum value. Unknown names report ok=false;
// callers decide the fallback.
func Parse(name string) (Tier, bool) {
	for i, n := range tierNames {
		if n == name {
			return Tier(i), true
		}
	}
	return Free, false
}

// Per-tier limit parameters. RequestLimit/Window drive the rolling rate
// limiter; StartingScans seeds the absolute quota ledger. StartingScans of 0
// means the ledger does not cap the tier.
type Limits struct {
	RequestLimit  int
	Window        time.Duration
	StartingScans int
}

var defaultLimits = map[Tier]Limits{
	Anonymous: {RequestLimit: 3, Window: time.Hour, StartingScans: 3},
	Free:      {RequestLimit: 10, Window: time.Hour, StartingScans: 10},
	Plus:      {RequestLimit: 30, Window: time.Hour, StartingScans: 0},
	Pro:       {RequestLimit: 100, Window: time.Hour, StartingScans: 0},
	Admin:     {RequestLimit: 1000, Window: time.Hour, StartingScans: 0},
}

// Immutable limit table, built once at process start.
type Table struct {
	limits map[Tier]Limits
}

// Override adjusts the built-in limits for a named tier.
type Override struct {
	Name          string
	RequestLimit  int
	WindowSeconds int
	StartingScans int
}

func NewTable(overrides []Override) (*Table, error) {
	limits := make(map[Tier]Limits, len(defaultLimits))
	for t, l := range defaultLimits {
		limits[t] = l
	}

	for _, o := range overrides {
		t, ok := Parse(o.Name)
		if !ok {
			return nil, fmt.Errorf("unknown tier %q in configuration", o.Name)
		}
		l := limits[t]
		if o.RequestLimit > 0 {
			l.RequestLimit = o.RequestLimit
		}
		if o.WindowSeconds > 0 {
			l.Window = time.Duration(o.WindowSeconds) * time.Second
		}
		if o.StartingScans > 0 {
			l.StartingScans = o.StartingScans
		}
		limits[t] = l
	}

	return &Table{limits: limits}, nil
}

func (tb *Table) Limits(t Tier) Limits {
	return tb.limits[t]
}
