// Package chord implements a Chord distributed hash table node over UDP.
//
// What's here
// -----------
//   - Ring arithmetic: Hash maps keys and addresses onto [0, 2^m) with FNV-1a;
//     Contains tests membership of the clockwise interval (origin, boundary].
//   - FingerTable: m entries, entry i tracking the owner of self + 2^(i-1).
//     Find gives the closest known preceding node, RefreshTargets drives
//     finger refreshes, IndexForID maps a lookup answer back to its slot.
//   - Node: successor, predecessor, fingers and the local Keystore, plus the
//     handlers for JOIN_REQ/JOIN_REP, NOTIFY, PREDECESSOR/STABILIZE,
//     SUCCESSOR/SUCCESSOR_REP and PUT/GET.
//   - Transport: one UDP socket per node; MessagePack envelopes
//     {method, args} with a request id and hop count riding along.
//   - Client and CLI: send PUT/GET to any node and wait for the owner's
//     ACK/NACK, which comes back directly rather than through the relays.
//
// Processing model
// ----------------
// Each node runs one loop (Node.Run). It blocks on Receive for at most
// Config.Timeout, handles exactly one envelope, and loops. A receive timeout
// starts a stabilisation round: PREDECESSOR to the successor, whose STABILIZE
// answer may tighten our successor pointer, after which we NOTIFY the
// successor and issue a SUCCESSOR lookup for every finger. The timeout is
// therefore the only thing setting the pace of ring convergence.
//
// A node given a bootstrap address starts JOINING and repeats JOIN_REQ until
// a JOIN_REP names its successor. Without one it starts ACTIVE as a ring of
// one.
//
// Ownership
// ---------
// A key belongs to the first node at or after Hash(key) clockwise. PUT is
// insert-only: the owner stores the first value and NACKs later PUTs for the
// same key. Keys stay where they were stored; nothing moves them when nodes
// join, and a node that disappears takes its keys with it. There is no
// graceful leave and no recovery when a successor stops answering.
//
// Running a ring locally
// ----------------------
//
//	Terminal A:
//	  go run ./chord/cmd/cli -addr 127.0.0.1:9001
//
//	Terminal B (bootstraps to A):
//	  go run ./chord/cmd/cli -addr 127.0.0.1:9002 -bootstrap 127.0.0.1:9001
//
//	In either terminal:
//	  put color blue
//	  get color
//	  state
package chord
