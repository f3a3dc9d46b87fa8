/*
Package resilience provides the circuit breaker placed in front of every
cross-process call: the privileged bridge and remote plugin endpoints.

# Usage

	breaker := resilience.New("bridge", resilience.RemoteSettings(nil))

	ok, err := resilience.Do(ctx, breaker, func(ctx context.Context) (bool, error) {
		return client.Ping(ctx)
	})

# States

- Closed: calls pass through
- Open: the remote is considered dead, calls fail immediately with ErrCircuitOpen
- Half-Open: a limited number of trial calls decide whether to close again

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
