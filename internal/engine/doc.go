// Package engine hosts a block graph in a process.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Every graph mutation happens on the goroutine running Engine.Run. Other
// goroutines (WebSocket connections, async functions, timers) post
// closures into the Root's mailbox; Run drains it whenever it is signalled.
//
// Run Loop:
// 1. Drain the mailbox (protocol requests, async settlements, passes)
// 2. Wait for the next mailbox signal, tick or cancellation
// 3. On tick, save every flow to the Root's storage
//
// Saving is cheap when nothing changed: the store compares content hashes
// and skips unchanged documents.
package engine
