// Package catchup provides cached catch-up subscriptions for a NATS-backed
// publish/subscribe bus: a subscriber obtains a continuous, gap-free,
// duplicate-free view of a topic by combining a historical fetch against one
// or more cooperating publication caches with a live subscription feed,
// merged into a single ordered delivery stream.
//
// # Architecture
//
// Two cooperating halves make up the system:
//
//	┌──────────────┐   live publish    ┌──────────────────┐
//	│  Publisher   ├──────────────────►│ PublicationCache │  bounded per-key
//	│ (sample pkg) │                   │  (pubcache pkg)  │  history rings
//	└──────┬───────┘                   └────────┬─────────┘
//	       │ live feed                          │ fetch replies
//	       ▼                                    ▼
//	┌─────────────────────────────────────────────────────┐
//	│              Catch-up Merge Engine                  │
//	│  buffer live samples while a fetch is outstanding,  │
//	│  merge + dedup + sort, drain in order, then deliver │
//	│  live with duplicate suppression (engine pkg)       │
//	└────────────────────────┬────────────────────────────┘
//	                         ▼
//	            ordered, bounded delivery channel
//	                  (delivery pkg)
//
// The merge engine guarantees, per key and per publisher, exactly-once and
// in-order delivery for the lifetime of one subscription, even when the
// historical and live sources race, overlap, or partially fail. Partial
// failure (fetch timeout, cache eviction, window overflow, delivery loss)
// degrades coverage, never correctness, and is always reported on the
// subscription's event side-channel.
//
// # Packages
//
//   - keys: hierarchical topic keys and wildcard patterns
//   - sample: sample identity, ordering, and the publishing helper
//   - pubcache: the server-side bounded publication cache and its bus service
//   - fetch: the historical fetch protocol and cache source registry
//   - engine: the catch-up merge engine and subscription surface
//   - delivery: the ordered, backpressure-aware delivery channel
//   - busclient: NATS connection management for feeds and fetches
//   - errors, metric, pkg/buffer, pkg/retry: shared infrastructure
//
// # Usage
//
//	client, _ := busclient.New("nats://localhost:4222")
//	_ = client.Connect(ctx)
//
//	remote, _ := fetch.NewRemoteSource("remote", client)
//	sources := fetch.NewSources()
//	_ = sources.Register(remote)
//
//	feed, _ := engine.NewBusFeed(client)
//	eng, _ := engine.New(feed, sources, engine.WithLogger(logger))
//	sub, err := eng.Subscribe(ctx, "fleet/**", engine.Options{})
//	if err != nil {
//	    // invalid configuration is rejected synchronously
//	}
//	defer sub.Close()
//
//	for {
//	    s, err := sub.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    handle(s)
//	}
package catchup
