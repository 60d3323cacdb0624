// Package rpubsub contains the single-writer, many-reader stream
// used to publish peer table changes.
//
// The kernel is the only writer.
// Consumers such as a display loop or an MQTT publisher
// each hold their own position in the [Stream]
// and advance through it at their own pace.
package rpubsub
