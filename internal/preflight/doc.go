// Package preflight provides readiness checks for the filesystem paths and
// remote registry that Registrar depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting; any failed check aborts
//     startup with the collected details.
//   - The CLI "registrar status" and "registrar worker" commands use the
//     individual check functions to display health or fail fast.
package preflight
