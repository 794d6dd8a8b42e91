// Package middleware defines the single contract through which loop policies
// observe and steer a run.
//
// A middleware implements Name plus any subset of the hook interfaces. Hooks
// never mutate run state directly: they set flags on the batch Context
// (skip the model call, skip tool execution, terminate), block individual
// calls through a FunctionContext, and contribute pure state transforms that
// the owner folds in hook order with Fold.
//
// Example:
//
//	type audit struct{}
//
//	func (audit) Name() string { return "audit" }
//
//	func (audit) AfterFunction(ctx context.Context, fc *middleware.FunctionContext) error {
//		fc.Logger.Info("audit.function", "name", fc.Invocation.Name)
//		return nil
//	}
package middleware
