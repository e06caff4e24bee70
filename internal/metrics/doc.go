// Package metrics holds the latency bucket layout shared by the Engine's
// histogram and the exporters under metrics/export.
//
// It performs no I/O and imports nothing from authcore.
package metrics
