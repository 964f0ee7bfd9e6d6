// Package infra contains technical adapters such as the MQTT cycle
// publisher, metrics exporters and the zerolog backend. These packages
// should depend only on the interfaces defined in the core packages.
package infra
