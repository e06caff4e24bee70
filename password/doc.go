// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Each hash embeds its own salt and cost parameters, so verification keeps working
// after the configured costs are raised. [Argon2.NeedsUpgrade] reports hashes made
// with weaker parameters so callers can rehash after a successful login.
//
// # Policy
//
// Passwords shorter than MinLength or longer than MaxLength bytes are rejected with
// [ErrWeakPassword]. Verification of a mismatching password is (false, nil); only
// a structurally invalid stored hash yields [ErrMalformedHash].
//
// This package never stores passwords and never logs plaintext or hash material.
package password
