/*
Package resilience provides the failure handling shared by the directory
client and the live update subscriber.

# Circuit breaker

The directory client wraps every call in a Breaker so a Directory Service
outage fails fast instead of stacking up timeouts:

	Closed --[ShouldTrip]-> Open --[Cooldown]-> Half-Open --[MaxProbes successes]-> Closed
	                                              |
	                                          [failure]
	                                              v
	                                            Open

IsFailure decides which errors count. The directory client counts transport
failures and 5xx responses only; a 404 or a validation error says nothing
about the health of the service.

OnStateChange runs with the breaker locked and must not call back into it.

# Backoff

Backoff describes the reconnect policy of the live update channel. Schedule
turns it into a cenkalti/backoff exponential sequence; reset the sequence once
a link has stayed up for StableAfter.

	s := resilience.DefaultBackoff().Schedule()
	for {
		if err := dial(); err == nil {
			s.Reset()
			break
		}
		time.Sleep(s.NextBackOff())
	}
*/
package resilience
