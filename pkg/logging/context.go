package logging

import "context"

type contextKey string

const (
	scenarioIDKey contextKey = "scenario_id"
	generationKey contextKey = "generation"
)

// WithScenarioID attaches a scenario identifier to the context so that
// every log record emitted during the run carries it.
func WithScenarioID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, scenarioIDKey, id)
}

// GetScenarioID extracts the scenario identifier from the context.
func GetScenarioID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(scenarioIDKey).(string)
	return id, ok
}

// WithGeneration attaches the current solver generation to the context.
func WithGeneration(ctx context.Context, gen int) context.Context {
	return context.WithValue(ctx, generationKey, gen)
}

// GetGeneration extracts the solver generation from the context.
func GetGeneration(ctx context.Context) (int, bool) {
	gen, ok := ctx.Value(generationKey).(int)
	return gen, ok
}
