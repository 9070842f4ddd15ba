// Package assetlock allocates exclusive ownership of shared test assets —
// device fixtures, mobile devices, environment slots — across many
// independent test-runner processes. Assets are described as rows in flat
// delimited data files (the candidate store); exclusive ownership is
// coordinated through a remote lockable-resources HTTP service.
//
// The allocator runs registered finders in order until one reports a match,
// then attempts to claim the candidate's lock name through the lock client.
// Contention on one candidate falls through to the next candidate or finder;
// only total exhaustion surfaces an error, typed so callers can tell "not
// found" from "found but reserved" from "already held by this task".
//
//	settings := assetlock.SettingsFromMap(map[string]string{
//	    "endpoint_url": "https://ci.example.com",
//	    "wait_timeout": "120000",
//	})
//	cl, err := client.New(settings.ClientConfig(), client.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	alloc := assetlock.New(cl,
//	    assetlock.WithLogger(logger),
//	    assetlock.WithFinders(
//	        finder.NewFilenameFinder(storeDir, "mac", cl, logger),
//	        finder.NewFieldValueFinder(storeDir, "mac", cl, logger),
//	    ),
//	)
//	asset, err := alloc.FindAsset(ctx, "deviceA")
//	if err != nil {
//	    return err
//	}
//	return alloc.RunWorkflow(ctx, asset, func(ctx context.Context, a *assetlock.Asset) error {
//	    mac, _ := a.Value("mac")
//	    return exercise(ctx, mac)
//	})
//
// The lock session is process-local bookkeeping only: it prevents one
// process from claiming the same identifier twice. Mutual exclusion between
// processes is enforced solely by the remote service's reserve semantics.
package assetlock
