// Package janitor runs scheduled maintenance on the credential store.
package janitor
