/*
Package health provides health checks for an embedded engine instance.

Embedders poll the engine's built-in checkers (data directory
writability, per-collection usability) and can register their own via
the Checker interface. Status folds consecutive results into a verdict
so one transient failure never flips a healthy report; the Retries
threshold in Config controls the sensitivity.
*/
package health
