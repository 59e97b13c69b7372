// Package peer defines node identities and the peer records shared between
// the host and its sessions.
//
// A node is identified by its long-term ed25519 public key (NodeID). The
// matching private key lives in an Identity, which signs the ephemeral key
// offered during the handshake.
package peer
