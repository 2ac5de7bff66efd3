/*
Package event defines the Event value object shared by every bus implementation,
its JSON wire envelope, the topic pattern dialect and a Collector that buffers
events for publishing after a unit of work completes.
*/
package event
