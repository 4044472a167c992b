// Package credentials manages named platform credential profiles.
//
// Profiles are persisted through a RecordStore (stores.SQLiteStore in
// production). The password of each profile is sealed with NaCl secretbox
// under a key derived from a master passphrase with scrypt and a per-profile
// salt, so the database never holds a secret in clear. Store implements
// engine.CredentialResolver.
package credentials
