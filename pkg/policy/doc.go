// Package policy gates run initialization on Open Policy Agent policies.
//
// Every policy is a Rego module that defines a deny set. Each element is
// either a message string or an object with a message, an optional
// severity and any extra keys, which become violation details:
//
//	package awsrt.admission.min_cell_size
//
//	deny contains violation if {
//		input.grid.cell_size < 10
//		violation := {"message": "cells are too small", "severity": "error"}
//	}
//
// Violations with severity error deny the run. Anything else is reported as
// a warning. The input document is built by NewInput from the run config,
// the environment and the fire.
//
// The engine starts with the built-in policies grid-size, horizon-limit and
// spread-extremes under awsrt.policies. LoadPolicies adds .rego and .json
// files; their packages must live under awsrt, outside awsrt.policies, and
// define deny. A METADATA block on the package names the policy and sets its
// default severity. A directory containing any invalid file fails to load as
// a whole, and Watch keeps the current set when a reload fails.
//
// Admitter adapts an Engine to the run controller's admission hook.
package policy
