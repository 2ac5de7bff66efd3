/*
Package rabbitmq provides the RabbitMQ event bus. Events are published to a
durable topic exchange with their topic as routing key. Each subscription binds
a durable queue named after its consumer group and pattern, acks on success and
rejects without requeue on failure. The connection-backed client reconnects with
backoff and resumes consumers once the broker is back. While the broker is
unreachable, Publish and Subscribe fail with the last dial error.

Patterns use the same dialect as the other buses: a trailing ">" binds as
"*.#". A "#" part is rejected, since AMQP would treat it as a wildcard.
*/
package rabbitmq
