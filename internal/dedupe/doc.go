// Package dedupe provides duplicate-envelope suppression using a time-based
// cache, since the transport may deliver the same envelope more than once.
package dedupe
