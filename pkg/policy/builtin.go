package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in execution policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		distinctTestComponentPolicy(),
		executionInstancePolicy(),
		deployedTestPolicy(),
		placeholderComponentPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, src string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Rego:        src,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// distinctTestComponentPolicy refuses to run a component as its own test.
func distinctTestComponentPolicy() Policy {
	return builtin(
		"distinct-test-component",
		"A test component must differ from the component it tests",
		SeverityError,
		[]string{"mapping"},
		`package ato.execution.distinct

import rego.v1

deny contains violation if {
	m := input.mapping
	m.test_component_id == m.main_component_id
	violation := {
		"message": sprintf("component %s is mapped as its own test", [m.main_component_id]),
		"severity": "error",
		"resource": m.main_component_id,
	}
}
`)
}

// executionInstancePolicy requires a runtime to submit to.
func executionInstancePolicy() Policy {
	return builtin(
		"execution-instance-required",
		"Jobs must target an execution instance",
		SeverityError,
		[]string{"runtime"},
		`package ato.execution.instance

import rego.v1

deny contains violation if {
	input.execution_instance_id == ""
	violation := {
		"message": "no execution instance configured for the job",
		"severity": "error",
	}
}
`)
}

// deployedTestPolicy warns when a mapping says the test is not deployed.
func deployedTestPolicy() Policy {
	return builtin(
		"deployed-test",
		"Warns when a test component is not marked as deployed",
		SeverityWarning,
		[]string{"mapping", "deployment"},
		`package ato.execution.deployed

import rego.v1

deny contains violation if {
	m := input.mapping
	not m.is_deployed
	violation := {
		"message": sprintf("test component %s is not marked as deployed", [m.test_component_id]),
		"severity": "warning",
	}
}
`)
}

// placeholderComponentPolicy warns about components whose metadata could not
// be read during discovery.
func placeholderComponentPolicy() Policy {
	return builtin(
		"placeholder-component",
		"Warns when the tested component was not found during discovery",
		SeverityWarning,
		[]string{"discovery"},
		`package ato.execution.placeholder

import rego.v1

deny contains violation if {
	input.component.component_type == "N/A"
	violation := {
		"message": sprintf("component %s was not found during discovery", [input.component.component_id]),
		"severity": "warning",
	}
}
`)
}
