// Package selection builds execution selections from a discovered plan.
//
// A Selector matches doublestar patterns against component names, types, ids
// or mapped test components ("Order*", "type=process", "test=**/Smoke*"). A
// Script runs a Starlark predicate for selections that patterns cannot express:
//
//	def select(component):
//	    return component.type == "process" and any([t.deployed for t in component.tests])
//
// Apply combines matchers and returns the plan component ids to pass to the
// orchestrator.
package selection
