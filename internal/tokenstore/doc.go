// Package tokenstore provides a durable key to JSON value map for OAuth state.
//
// The whole map is kept as a single JSON document. Every operation reads the
// document from its backend again and every write replaces it completely, so
// nothing is cached between requests. Two backends are available:
//   - File: local JSON file written with temp file + rename and 0600 permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// There is no locking around read-modify-write; concurrent writers race and
// the last one wins.
package tokenstore
