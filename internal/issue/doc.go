// SPDX-License-Identifier: MPL-2.0

// Package issue provides structured, actionable errors: a failed operation,
// the resource involved, a wrapped cause, and optional remediation
// suggestions for user-facing output.
package issue
