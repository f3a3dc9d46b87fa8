// Package supervisor puts the host into safe mode when a package rendering
// its smartspace keeps crashing.
//
// The bridge reports crash storms (too many crashes of one package inside a
// short window). When the crashed package is watched, the supervisor:
//  1. restores the system smartspace service, only if a bridge is connected
//  2. sends a signed safe-mode notice to the receiver
//  3. exits the process with status 0
//
// Safe mode triggers at most once per process. Stops of the system
// intelligence package are forwarded, rate limited, without safe mode.
package supervisor
