// Package cdst is the optimization core of the CDST diagnostic network
// platform: it allocates Culture and Drug Sensitivity Testing workload
// from service areas to laboratories while balancing five competing
// objectives — transport distance, elapsed time, operational cost,
// laboratory utilization, and service-area accessibility.
//
// Key components:
//
//   - Routing: distance and travel-time resolution against an
//     OSRM-style endpoint with a haversine fallback and a process-wide
//     sharded TTL cache.
//
//   - Problem: validation of a network snapshot (laboratories, service
//     areas, test types, demand records) and materialization of the
//     dense, immutable Problem arrays the solver reads.
//
//   - Solver: the NSGA-II evolutionary engine over the integer
//     allocation tensor — fast non-dominated sorting, crowding
//     distance, tournament selection, multi-point crossover, annealed
//     Gaussian mutation, and an idempotent repair operator that keeps
//     every individual feasible.
//
//   - Scheduler: scenario lifecycle management with per-user fairness,
//     bounded global concurrency, cooperative cancellation and
//     timeouts, durable zstd-compressed checkpoints, and coalescing
//     progress broadcasts.
//
//   - Result: decoration of the final Pareto front into persistable
//     allocation rows and a summary against a greedy baseline.
//
// The REST surface, authentication, and data ingest live in sibling
// services; this module is the engine they call into.
package cdst
