package cache

import "fmt"

// Strategy selects how a miss or an expired entry is rebuilt.
type Strategy int

const (
	// PassThrough loads on every miss and caches negative results as an empty marker.
	PassThrough Strategy = iota
	// Mutex lets a single holder of the rebuild lock reload a missing key; everyone
	// else backs off and retries the lookup.
	Mutex
	// LogicalExpire never lets keys expire in Redis; stale values are served while
	// one background rebuild refreshes them.
	LogicalExpire
)

func (s Strategy) String() string {
	switch s {
	case PassThrough:
		return "pass_through"
	case Mutex:
		return "mutex"
	case LogicalExpire:
		return "logical_expire"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "pass_through", "passthrough":
		return PassThrough, nil
	case "mutex", "":
		return Mutex, nil
	case "logical_expire", "logical":
		return LogicalExpire, nil
	default:
		return 0, fmt.Errorf("unknown cache strategy %q", s)
	}
}
