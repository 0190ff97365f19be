// Package foreach applies a transformation to every document in a container.
//
// A Runner pages through a Container with a Reader, hands each document to a Transformation
// together with an Ops capability object, and applies the single declared mutation (delete,
// replace or log) with an Executor. Transient mutation failures are retried with exponential
// backoff. Per document failures are recorded in the run Summary and never stop the run, while a
// failure to read a page aborts it. Progress is checkpointed at page boundaries so an interrupted
// run can be resumed with the same run id.
//
// Containers are opened by provider name; importing a store package registers its provider:
//
//	import _ "github.com/autom8ter/foreach/store/cosmos"
//
//	container, err := foreach.Open(ctx, "cosmos", map[string]any{...})
package foreach
