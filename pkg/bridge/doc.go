// Copyright 2024-2026 Aiku AI

// Package bridge connects Discord guild channels to Matrix rooms in
// both directions.
//
// Discord users appear in Matrix as appservice ghosts
// (@_discord_<id>:domain); Matrix users appear in Discord through one
// of three delivery paths chosen per message: the sender's own Discord
// account when one is configured, the bridge webhook impersonating
// their name and avatar, or an embed posted by the bridge account with
// the sender in the author header.
//
// # Core Types
//
// [Bridge] owns the orchestration: mapping lookups, echo suppression,
// channel resolution, delivery selection, and ghost profile sync.
//
// [EchoTracker] remembers the IDs of messages the bridge sent to
// Discord so their gateway echoes are discarded instead of looping
// back to Matrix.
//
// [IdentityProvider] and [GhostIntent] abstract the appservice intent
// API; [ASIdentityProvider] is the production implementation.
//
// # Echo Prevention
//
// Inbound Discord events pass three filters before they are bridged:
// the echo set (IDs of bridge-sent messages), the bridge's own Discord
// user ID, and the Discord user IDs of configured puppets. All three
// are required to keep the loop closed.
//
// # Sub-packages
//
//   - discordfmt converts Discord markdown to Matrix HTML.
//   - matrixfmt converts Matrix HTML to Discord markdown.
package bridge
