// Package flows holds the step-by-step logic behind Authenticate, Refresh,
// Validate and Authorize.
//
// Every Run* function receives a Deps struct of narrow funcs and interfaces
// and returns a result tagged with a failure kind; the root package turns
// kinds into its public errors. Flows keep no state between calls and never
// import the root package.
package flows
