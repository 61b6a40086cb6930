// Package ctyconv moves values between go-cty and plain Go.
//
// Workflow files produce cty values; task payloads and outputs travel
// through the engine and snapshots as plain Go values (string, float64,
// bool, []any, map[string]any). Runners get their arguments decoded into
// typed input structs whose fields carry `cty:"name"` tags.
package ctyconv
