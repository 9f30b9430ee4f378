package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Message is an inbound bus message as seen by handlers.
type Message struct {
	// Topic is the concrete topic the message arrived on (wildcards expanded).
	Topic string

	// Payload is the decoded text form of Raw. Invalid UTF-8 is decoded as
	// latin-1 so that no message is dropped for encoding reasons.
	Payload string

	// Raw is the payload exactly as received from the broker.
	Raw []byte

	// QoS is the delivery QoS of the message.
	QoS byte

	// Retained is true when the broker replayed a stored message rather than
	// forwarding a live publish.
	Retained bool
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run sequentially on the client's message loop, so a slow handler
// delays later messages. Returned errors are logged and otherwise ignored.
type MessageHandler func(msg Message) error

// newMessage builds a Message from raw transport fields.
func newMessage(topic string, raw []byte, qos byte, retained bool) Message {
	return Message{
		Topic:    topic,
		Payload:  DecodePayload(raw),
		Raw:      raw,
		QoS:      qos,
		Retained: retained,
	}
}

// DecodePayload converts payload bytes to text.
//
// Valid UTF-8 is returned as is. Anything else is decoded as ISO 8859-1,
// which maps every byte to exactly one rune and therefore never fails.
func DecodePayload(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		// ISO 8859-1 decoding is total; keep the bytes if that ever changes.
		return string(raw)
	}
	return string(text)
}

// EncodePayload converts a value into the bus text wire format.
//
// Encoding rules, one per type:
//   - nil: empty payload
//   - string, []byte: passed through unchanged
//   - bool: "true" / "false"
//   - integers and floats: shortest decimal text
//   - everything else: JSON (map keys sorted, so encoding is canonical)
func EncodePayload(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	case bool:
		return []byte(strconv.FormatBool(val)), nil
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int8:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case int16:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case uint:
		return []byte(strconv.FormatUint(uint64(val), 10)), nil
	case uint8:
		return []byte(strconv.FormatUint(uint64(val), 10)), nil
	case uint16:
		return []byte(strconv.FormatUint(uint64(val), 10)), nil
	case uint32:
		return []byte(strconv.FormatUint(uint64(val), 10)), nil
	case uint64:
		return []byte(strconv.FormatUint(val, 10)), nil
	case float32:
		return []byte(strconv.FormatFloat(float64(val), 'f', -1, 32)), nil
	case float64:
		return []byte(strconv.FormatFloat(val, 'f', -1, 64)), nil
	case json.Number:
		return []byte(val.String()), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return data, nil
}
