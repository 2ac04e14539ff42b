// Package hub provides single-process pub/sub for live conversation
// events. One topic per open conversation plus the reserved global topic
// for sidebar updates. Delivery is best-effort and at-most-once per
// subscriber registered at publish time; nothing is buffered or replayed
// for late subscribers.
package hub
