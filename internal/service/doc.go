// Package service runs the sharer core as long-lived processes: a holder
// daemon fed by a counter, a fixed id or a watched file, its admin HTTP
// surface, and a one-shot resolver for clients.
package service
