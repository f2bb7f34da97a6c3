// Package types defines the shared domain model for the voxlens platform:
// call records, transcripts, evaluation results, conversation runs, webhook
// subscriptions, and the structured error type carried through every layer.
package types
