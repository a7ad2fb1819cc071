// Package password is the default password hasher: Argon2id with PHC-encoded output.
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// The salt travels inside the encoded string. [Argon2.NeedsUpgrade] reports hashes made
// with weaker parameters so the caller can re-hash after the next successful login.
//
// Password policy (minimum length) is enforced by the Engine, not here. This package
// never stores, logs or returns plaintext.
package password
