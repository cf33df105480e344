// Package configclient keeps a service's config snapshot current.
//
// A Client resolves once on Start, then re-resolves whenever a refresh
// event for its application arrives on the bus and on a poll interval,
// since bus delivery is best effort. Each successful change swaps the
// snapshot atomically and runs the OnChange callbacks:
//
//	src := configclient.NewHTTPSource(hc)
//	c, _ := configclient.New(src, bus.NewRemote(hc), configclient.Config{Application: "orders"})
//	_ = c.Start(ctx)
//	host := c.Current().String("db.host", "localhost")
package configclient
