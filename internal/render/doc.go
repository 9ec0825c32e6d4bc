// Package render holds the consumer-side upload strategies. A capability
// probe runs once at engine start and picks either the modern strategy
// (mask bound on a second texture unit) or the legacy one (mask composited
// into each upload). Both keep their resident set in memory so the headless
// daemon can report what a renderer would hold.
package render
