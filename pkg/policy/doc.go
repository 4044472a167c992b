// Package policy evaluates Rego execution policies before a test job is
// submitted to the platform.
//
// Every enabled policy contributes its deny set, queried at
// data.<package>.deny. Each entry is either a message string or an object with
// message, severity and resource keys. Entries with error or critical severity
// deny the job, which is then recorded as a FAILURE with kind policy_denied
// without touching the platform. Lower severities are logged as warnings.
//
// # Input
//
// Policies see the following input document:
//
//	{
//	  "plan":      {"id": "...", "name": "...", "root_component_id": "...", "status": "EXECUTING"},
//	  "component": {"id": "...", "component_id": "...", "component_name": "...", "component_type": "process"},
//	  "mapping":   {"main_component_id": "...", "test_component_id": "...", "is_deployed": true, "is_package": false},
//	  "execution_instance_id": "...",
//	  "context":   {"timestamp": "...", "operation": "execute", "environment": "production"}
//	}
//
// # Built-in policies
//
//   - distinct-test-component: a component cannot be its own test (error)
//   - execution-instance-required: jobs need an execution instance (error)
//   - deployed-test: the mapping marks the test as not deployed (warning)
//   - placeholder-component: the component was not found during discovery (warning)
//
// # Custom policies
//
// Policies are loaded from .rego files, or from .json files holding a Policy,
// found recursively under the configured directory. The leading comment block
// of a .rego file becomes its description and a "# severity: <level>" line sets
// the default severity (error when absent):
//
//	# Freeze production plans.
//	# severity: critical
//	package ato.custom.freeze
//
//	import rego.v1
//
//	deny contains msg if {
//	    startswith(input.plan.name, "prod")
//	    msg := "production plans are frozen"
//	}
//
// Engine.Watch reloads the directory on change. A reload that fails to compile
// leaves the previous policy set in place.
package policy
