// Package strata provides a resilient Go client core for the Strata cluster
// management API:
//
//   - Request resilience: retries with exponential backoff and Retry-After
//     compliance, driven by a closed error taxonomy
//   - Session management: API-token or username/password auth with a cached
//     short-lived session token refreshed by at most one in-flight request
//   - Transactions: atomic multi-resource configuration changes with
//     validation, reverse-order rollback and a crash-safe JSON journal
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - No hidden control flow: metrics and logging are best effort and never
//     change the outcome of a call
//
// Typical usage:
//
//	client := strata.New("https://cluster.example.com:8089",
//	    strata.WithSessionAuth("admin", password),
//	    strata.WithMaxRetries(3),
//	    strata.WithMetrics(),
//	)
//	var health clusterHealth
//	err := client.ExecuteJSON(ctx, func(ctx context.Context) (*http.Request, error) {
//	    return http.NewRequestWithContext(ctx, http.MethodGet, client.URL("/services/cluster/health"), nil)
//	}, "cluster/health", http.MethodGet, &health)
//
// Only transport failures, timeouts, 429 and 502/503/504 responses trigger
// retries; everything else, including a 200 whose body fails to decode,
// surfaces immediately.
package strata
