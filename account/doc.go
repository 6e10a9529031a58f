// Package account defines the user record, its status lifecycle, the store
// contract the authentication core reads through, and identifier
// normalization shared by every credential verifier.
package account
