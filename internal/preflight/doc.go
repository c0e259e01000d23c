// Package preflight validates the host system before vitrine starts
// serving or indexing.
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB)
//   - Write permissions in the project directory
//   - File descriptor limits (minimum 1024)
//   - Embedding service reachability
//   - Vector index schema compatibility
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/project")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
