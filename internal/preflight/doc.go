// Package preflight provides readiness checks for the devices, binaries,
// directories and remote service LipsTalk depends on.
//
// These checks run in two contexts:
//   - The pipeline calls DevicePermissions.Check before every recording. A
//     failure becomes permission_denied and no attempt is created.
//   - The CLI "lipstalk preflight" command runs RunAll to display readiness.
package preflight
