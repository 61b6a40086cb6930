// Package registry provides the central "glue" for the module system.
//
// The Registry maps runner names used in workflow files (e.g. "http_request")
// to the compiled Go functions that implement them. It implements
// executor.Executor: a task's payload is an Invocation naming the runner and
// carrying its raw arguments, which are decoded into the runner's input
// struct before the call.
//
// During application startup, the registry is populated and then validated
// so that every runner's Go signature and input struct are usable, and so
// that every task names a registered runner with arguments it accepts. This
// catches configuration mistakes before any task runs.
package registry
