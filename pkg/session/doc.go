// Package session stores opaque login sessions in Redis.
//
// A session is created after the caller's bearer token has been verified
// and reconciled, and can then stand in for the token on later requests:
//
//	sess, err := store.Create(ctx, user)
//	...
//	sess, err = store.Get(ctx, sess.Token)
//
// Sessions expire with their Redis keys. Creating a session for a user
// revokes the user's previous one.
package session
