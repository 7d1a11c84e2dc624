package harvest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// DecodeContent unwraps binary uplinks. Content shaped like
// {"payload":"<base64>"} whose decoded bytes are printable ASCII becomes
// {"value":"<decoded>"}; any other content is returned unchanged.
func DecodeContent(content string) string {
	var wrapped struct {
		Payload *string `json:"payload"`
	}
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil || wrapped.Payload == nil {
		return content
	}
	decoded, err := base64.StdEncoding.DecodeString(*wrapped.Payload)
	if err != nil || !printableASCII(decoded) {
		return content
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(map[string]string{"value": string(decoded)}); err != nil {
		return content
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func printableASCII(raw []byte) bool {
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}
