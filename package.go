// Package kestrel implements an agent runtime core: the loop that drives a
// conversation with an LLM provider, dispatches tool calls, enforces
// reliability and resource policies, optionally delegates sub-tasks to
// specialized agents, and exposes the whole execution as an asynchronous,
// interruptible, human-gated run with a stable event stream.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//
//	    "github.com/kestrel-agents/kestrel"
//	    "github.com/kestrel-agents/kestrel/providers"
//	    "github.com/kestrel-agents/kestrel/schema"
//	    "github.com/tmc/langchaingo/llms/openai"
//	)
//
//	func main() {
//	    llm, _ := openai.New()
//	    provider := providers.NewLCG(llm).WithModelName("gpt-4o")
//
//	    registry := kestrel.NewRegistry()
//	    registry.MustRegister(kestrel.NewToolFunc(
//	        "lookup_order",
//	        "Look up order details by order ID",
//	        schema.Object(map[string]*schema.Property{
//	            "order_id": schema.String("Order ID"),
//	        }, "order_id"),
//	        lookupOrder,
//	    ), kestrel.ToolOptions{ReadOnly: true})
//
//	    coord := kestrel.NewCoordinator(provider, registry).
//	        WithCache(kestrel.NewResultCache(0))
//	    session := coord.OpenSession()
//	    sub := session.Subscribe()
//	    defer sub.Close()
//
//	    runID, _ := session.SubmitMessage("Where is order 42?")
//	    for ev := range sub.Events() {
//	        fmt.Println(ev.Type, ev.RunID == runID)
//	        if ev.Type.Terminal() {
//	            break
//	        }
//	    }
//	}
//
// # Architecture
//
// The runtime is layered, leaves first:
//
//   - Provider: vendor-neutral generate/stream contract ([Provider]); the
//     providers subpackage adapts any langchaingo llms.Model.
//   - Registry: named tools with JSON-schema parameters, executed through a
//     single capability interface ([Tool], [Registry]).
//   - History: bounded conversation buffer that never strands a tool call
//     from its response ([History]).
//   - Retry: exponential backoff with jitter around provider calls only
//     ([Retry], [TransientError], [PermanentError]).
//   - ResultCache: TTL cache for read-only tool results ([ResultCache]).
//   - Loop: the per-step orchestrator ([Loop]).
//   - delegate subpackage: capability-scored routing of sub-tasks across
//     multiple loops with cycle and depth protection.
//   - Coordinator: wraps a loop execution as an addressable, cancellable,
//     human-gated run with an ordered event stream ([Coordinator], [Run],
//     [Approval]).
//
// Every component is injected at construction. There are no package-level
// singletons, so two sessions can run with different caches, retry policies,
// and tool sets in the same process.
package kestrel
