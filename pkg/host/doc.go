// Package host accepts and dials peer connections and owns the resulting
// sessions.
//
// Every connection, inbound or outbound, goes through the same steps:
//
//  1. transport: TCP, optionally TLS 1.3
//  2. handshake: authenticated hello exchange and key agreement
//  3. admission: the checks below, under the host lock
//  4. session: a session.Session is started and registered by node ID
//
// A connection fails admission when the remote is this node
// (DisconnectLocalIdentity), when a session to the same node already exists
// (DisconnectDuplicatePeer), when the peer table is full
// (DisconnectTooManyPeers, static nodes are exempt), or when the peer shares
// none of our capabilities (DisconnectUselessPeer). A rejected peer is sent a
// best-effort Disconnect before the socket is closed.
//
// The Host is the session.Registry of its sessions: it removes a session
// from the peer table when it disconnects and forwards the reason to
// listeners added with OnPeerDisconnect.
package host
