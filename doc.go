// Package reststorage defines the storage contract of a REST addressable
// hierarchical key/value store.
//
// The tree holds two kinds of nodes. A Document is a leaf holding an opaque
// byte value. A Collection is an internal node whose value is the sorted list
// of its children's names. Looking up a path that holds neither yields a
// Missing resource.
//
// Storage is implemented by a filesystem backend and by a Redis backend
// whose tree maintenance runs as atomic server side scripts. Writes are
// streamed into a staging artifact that is promoted to the final path only
// when the body was received completely; see the upload package.
//
// Every document and collection membership carries an expiry. Expired
// entries read as absent and are physically removed by Cleanup.
package reststorage
