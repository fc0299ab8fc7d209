// Package mock provides a simulated execution engine.
//
// Engine implements execution.Engine without sending any network traffic.
// Each run plays a fixed script of events onto the shared event stream,
// which is enough to drive the router, the tab bar and the CLI end to end:
//
//	engine := mock.NewEngine(mock.WithStepDelay(50 * time.Millisecond))
//	defer engine.Close()
//
//	router := execution.NewRouter(store, engine)
//	_ = router.Start(ctx)
//
// Tests can inject arbitrary events with Emit, replay every event twice
// with WithDoubleFire to exercise de-duplication, or make run commands fail
// with WithFailure.
package mock
