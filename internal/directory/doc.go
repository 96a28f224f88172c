// Package directory holds the list of counterparts known to the session user.
//
// The list is refreshed once per session establishment and whenever a live
// notification names a counterpart the list does not contain. It is never
// merged: every successful fetch is an authoritative snapshot.
package directory
