// Package channel turns provider webhook bodies into provider-neutral
// inbound events.
//
// # Normalizers
//
// Each provider registers a Normalizer under the {provider} segment of the
// webhook path. Normalizers are pure: they parse bytes and return an
// Outcome, never touching storage.
//
//	reg := channel.DefaultRegistry()
//	n, ok := reg.Lookup("evolution")
//	outcome, err := n.Normalize(body)
//
// An Outcome either carries an InboundEvent or a SkipReason. Skips are not
// errors: connection updates and outbound echoes are acknowledged and
// dropped. ErrInvalidPayload is reserved for bodies missing the sender
// identity or the message.
//
// # Content
//
// Message bodies are represented by the sealed Content variant. Extract
// produces the stored text (caption or placeholder) and Classify the
// message type. The two are independent so a captioned image is stored as
// its caption with type image.
package channel
