// Package client implements the HTTP client for a lockable-resources
// service: reserve and unreserve calls, reserved-status queries against the
// structured listing endpoint, and fixed-interval wait-for-free polling with
// an optional overall timeout.
//
// One Client is constructed per process from a Config and shared by
// reference with every finder and the allocator. The client only observes
// and mutates the remote reservation state; it never owns it. A status query
// that fails or does not know the resource degrades to "available" so a
// transient service outage cannot deadlock a whole test fleet, while reserve
// and unreserve failures always propagate as claim failures.
//
//	cl, err := client.New(client.Config{
//	    EndpointURL:  "https://ci.example.com",
//	    WaitInterval: 5 * time.Second,
//	    WaitTimeout:  2 * time.Minute,
//	    TTL:          30 * time.Minute,
//	}, client.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := cl.Reserve(ctx, "deviceA"); err != nil {
//	    return err
//	}
//	defer cl.Unreserve(ctx, "deviceA")
package client
