// Package session manages gateway user sessions. It handles session
// creation, lookup, expiration, and storage of ephemeral session state
// backed by Redis, including which moderation flow a user is currently
// in.
package session
