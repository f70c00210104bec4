package generation

import "errors"

// ErrGenerationUnavailable marks a generation collaborator failure
// (unreachable or timed out). It is the only error kind that crosses
// the orchestrator boundary; callers may retry. Retrieval anomalies
// and malformed citations degrade to warnings instead.
var ErrGenerationUnavailable = errors.New("generation model unavailable")
