// Package password hashes and verifies principal credentials for tearoom.
//
// Hashes are Argon2id in the PHC string form
// ($argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash>). Encoded hashes
// are treated as untrusted input during Verify: parameters far above the
// configured cost are refused so a tampered row cannot pin a CPU.
package password
