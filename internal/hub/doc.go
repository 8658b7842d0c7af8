// ABOUTME: Package documentation for the connection hub
// ABOUTME: Explains groups, per-conversation workers, and delivery rules

// Package hub tracks live client connections and conversation broadcast
// groups, and drives the message pipeline for each conversation.
//
// Delivery rules: acknowledgments, errors, and status replies go to the
// calling connection only; agent-typing and agent-message events go to every
// group member; guest typing indicators go to every member except the sender.
//
// Each active conversation owns one worker goroutine. All message passes for
// a conversation run on its worker in arrival order, so the typing-start,
// reply, typing-stop sequence of one pass never interleaves with another
// pass on the same conversation. Different conversations run in parallel.
package hub
