// Package simulation runs a batch of circuit orders against one relay
// snapshot.
//
// A Runner resolves every order against the snapshot, builds the weighted
// pools each order needs (the exit pool depends on the destination port and
// is cached per port), assembles the restriction predicates and drives the
// circuit generator. Order failures do not stop the run: they are collected
// in the Result and combined into the returned error.
//
// Usage:
//
//	snap, _ := snapshot.Load("consensus.yaml")
//	specs, _ := orders.ParseFile(f)
//	sc, _ := simulation.NewScenario("nightly", snap, specs, cfg)
//	r := simulation.NewRunner(simulation.WithLogger(logger))
//	result, err := r.Run(ctx, sc)
package simulation
