package fetch

import "sync/atomic"

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
}

// UserAgentRotator hands out user agents round-robin. Safe for concurrent use.
type UserAgentRotator struct {
	agents []string
	next   atomic.Uint64
}

func NewUserAgentRotator(agents []string) *UserAgentRotator {
	pool := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		pool = DefaultUserAgents()
	}
	return &UserAgentRotator{agents: pool}
}

func (r *UserAgentRotator) Next() string {
	n := r.next.Add(1) - 1
	return r.agents[n%uint64(len(r.agents))]
}
