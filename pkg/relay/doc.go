// Package relay implements the per-thread session actors and the router that
// addresses them.
//
// Ownership model:
//   - ActorManager maps a thread ID to exactly one live Actor, creating it on
//     first use and evicting it once it has been idle without a connection.
//   - An Actor owns its thread's history and at most one WebSocket. A single
//     goroutine drains the actor's mailbox, so frames, closes and snapshot
//     requests for one thread never run concurrently.
//   - Router is the HTTP surface: /websocket upgrades into an actor, /list
//     enumerates known threads.
//
// Wire protocol over the WebSocket (text frames):
//   - client "(GET_HISTORY)..." -> one JSON array of {role, content}
//   - any other client text -> "[LOADING]", zero or more deltas, "[DONE]"
//   - on failure -> "[ERROR] <message>" followed by a 1011 close
package relay
