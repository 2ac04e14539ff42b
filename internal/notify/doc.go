// Package notify pushes new-message webhooks to the external inbox
// console. Deliveries are best-effort.
package notify
