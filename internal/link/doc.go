// Package link is the single entry point a dashboard uses to talk to the
// cloud platform.
//
// A Link owns one HTTP session (control-plane), one broker session
// (data-plane) and the topic router between them, and sequences them:
//
//	login ──▶ derive broker credentials ──▶ broker connect ──▶ re-subscribe
//
// Subscriptions may be registered at any time. They are kept in the router
// while disconnected and applied on the next successful broker handshake.
//
// The two channels fail independently: an HTTP error never drops the broker
// connection and a broker drop never invalidates the HTTP session.
//
// Usage:
//
//	l := link.NewFromConfig(cfg, logger)
//	l.OnStateChange(func(from, to link.State) { ... })
//	if err := l.Connect(ctx, user, pass, "", ""); err != nil {
//	    return err
//	}
//	l.Subscribe(ctx, topic.Descriptor{
//	    Target: topic.Flat(assetID), Direction: topic.In,
//	    Facet: topic.State, Level: topic.LevelAsset,
//	    Subscriber: topic.SubscriberFunc(render),
//	})
package link
