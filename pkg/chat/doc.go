// Package chat maintains a single authenticated, full-duplex chat session with a remote agent
// endpoint and fans its events out to subscribed handlers.
//
// Invariants:
// - A Session owns at most one transport; Connect on a non-idle session is rejected.
// - The credential is fetched on every Connect and never cached.
// - SendMessage fails with ErrNotConnected unless the session is open and the transport is live.
// - After Disconnect returns, no handler invocation begins.
// - A Registry holds at most one live Session and replaces spent ones lazily.
//
// Usage:
//
//	registry := chat.NewRegistry(func() *chat.Session {
//		return chat.NewSession(chat.Config{Credentials: provider, Dialer: dialer})
//	})
//	session := registry.Get()
//	unsubscribe := session.SubscribeMessage(func(msg chat.InboundMessage) { render(msg) })
//	defer unsubscribe()
//	_ = session.Connect(ctx)
//	_ = session.SendMessage(chat.OutboundMessage{Text: "hello"})
package chat
