// Package broadcast sends one message to many recipients, paced by a fixed
// interval, in the background.
//
// Each job owns a snapshot of its recipients and its own limiter, so
// concurrent jobs never share mutable state. A failed send is logged and
// counted; the job moves on to the next recipient.
package broadcast
