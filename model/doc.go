// Package model defines the provider-agnostic model invoker consumed by the
// loop driver.
//
// Core goals:
//   - One finalized Invoke call per iteration (adapters may stream internally)
//   - Normalize tool / function call representation (ToolDescriptor, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic testing (ScriptedInvoker)
//
// Providers (model/openai, model/anthropic) implement Invoker so higher
// layers stay decoupled from vendor SDKs.
package model
