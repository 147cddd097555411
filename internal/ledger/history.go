package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type rawHistory struct {
	History []json.RawMessage `json:"history"`
}

// appendHistory adds item to the {"history":[...]} document kept in raw_payload. Anything else
// already stored there becomes the first history element.
func appendHistory(raw json.RawMessage, item any) (json.RawMessage, error) {
	var doc rawHistory
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err == nil && len(fields) == 1 && fields["history"] != nil {
			if err := json.Unmarshal(fields["history"], &doc.History); err != nil {
				doc.History = []json.RawMessage{fields["history"]}
			}
		} else {
			doc.History = []json.RawMessage{append(json.RawMessage(nil), trimmed...)}
		}
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode history item: %w", err)
	}
	doc.History = append(doc.History, encoded)
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return out, nil
}
