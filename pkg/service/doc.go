// Package service is the application layer of ato. It wires the engine to
// its stores, credential profiles, platform providers and policies, and is
// the one surface the CLI and the HTTP API call.
//
// Open builds a Service from a config.Config:
//
//	svc, err := service.Open(ctx, cfg, service.BootstrapOptions{Telemetry: tel})
//	if err != nil {
//		return err
//	}
//	defer svc.Close(ctx)
//
//	plan, err := svc.InitiateDiscovery(ctx, engine.DiscoverRequest{RootComponentID: id, DiscoverDependencies: true})
//	summary, err := svc.ExecuteTests(ctx, service.ExecuteRequest{PlanID: plan.ID, Match: []string{"Orders*"}})
//
// ExecuteTests blocks until the batch drains. StartExecution accepts the same
// request, checks it, and runs the batch in the background.
package service
