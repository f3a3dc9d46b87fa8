// Package sdk defines the plugin provider contract.
//
// Plugins implement one role interface (TargetProvider, ComplicationProvider,
// RequirementProvider, WidgetProvider, NotificationProvider, BroadcastProvider)
// and register it on a Dispatcher with the matching Serve function. The host
// reaches a provider through an Endpoint: in-process through
// Dispatcher.Endpoint, or out-of-process through RemoteEndpoint over gRPC.
//
// Every call carries a method name and a Bundle payload. The dispatcher checks
// the caller identity before any handler runs, so only the host can read
// plugin data.
//
// Example:
//
//	d := sdk.NewDispatcher(hostPackage)
//	sdk.ServeTargets(d, myTargets)
//
//	client := sdk.NewTargetClient(d.Endpoint(hostPackage))
//	targets, err := client.GetTargets(ctx, smartspacerID)
package sdk
