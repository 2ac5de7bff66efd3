/*
Package servicebus provides the in-process event bus: a registry of topic pattern
subscriptions with synchronous, ordered fan-out on publish. It is the single-node
counterpart of the broker adapters and satisfies the same contract.
*/
package servicebus
