// Package report turns ato entities into files and terminal output.
//
// Export writes test execution results as JSON, CSV or JUnit XML:
//
//   - CSV has one row per test case with the columns Plan ID, Component,
//     Test Suite, Case ID, Description, Status, Details and Time. A result
//     without a test case report is a single "Process Execution" row.
//   - JUnit has one testsuite per result. Failed cases are failures of type
//     AssertionError; a failed result without cases is an error of type
//     SystemError.
//
// ParseMappingsCSV reads mapping files for bulk import. Printer renders
// plans, results, mappings and credential profiles as go-pretty tables with
// lipgloss status badges.
package report
