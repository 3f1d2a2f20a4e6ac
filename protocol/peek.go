package protocol

import "github.com/tidwall/gjson"

// PeekType reads just the "type" tag out of a raw JSON frame without
// committing to a full typed unmarshal — a cheap first-pass rejection
// of malformed input before the real encoding/json.Unmarshal runs.
func PeekType(raw []byte) string {
	return gjson.GetBytes(raw, "type").String()
}
