// Package session mirrors live connection state into Redis so backend
// tooling can see which connections (and which registered users) each relay
// instance currently holds. Presence truth lives in the in-memory registry;
// this mirror is purely operational.
package session
