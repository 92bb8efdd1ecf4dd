// Package delivery carries one-time codes to users over email or SMS.
//
// [Sender] is the adapter the challenge manager dispatches through.
// [Router] picks a sender by [Channel]; [AMQPSender] hands messages to a
// RabbitMQ queue drained by an external mail/SMS worker, and [LogSender]
// writes them to a logger for local development.
//
// # What this package must NOT do
//
//   - Store or validate codes: that belongs to package challenge.
//   - Retry indefinitely; callers decide whether to offer a resend.
package delivery
