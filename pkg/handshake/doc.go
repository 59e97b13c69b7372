// Package handshake authenticates a fresh connection and agrees on a
// session key before a session starts.
//
// Both sides run the same exchange:
//
//	→ Hello{version, node id, ephemeral key, signature, caps, listen port}
//	← Hello{...}
//	  verify signature, agree once on the ephemeral keys, derive keys
//	→ AuthConfirm{MAC}
//	← AuthConfirm{MAC}
//
// The hello signature binds the ephemeral key to the long-term node identity.
// The confirmation MAC proves both sides derived the same secret. Hello and
// AuthConfirm travel as ordinary frames on protocol 0.
package handshake
