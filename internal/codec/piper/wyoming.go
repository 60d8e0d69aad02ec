package piper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// maxEventJSON bounds a header-declared JSON length.
const maxEventJSON = 1 << 20

func writeEvent(w io.Writer, evt event, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", len(body), len(payload))
	bw.Write(body)
	bw.WriteByte('\n')
	bw.Write(payload)
	return bw.Flush()
}

// readEvent reads one event. r is read byte-wise for the header, so wrap
// raw connections in a bufio.Reader when throughput matters.
func readEvent(r io.Reader) (*event, []byte, error) {
	var header []byte
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if one[0] == '\n' {
			break
		}
		header = append(header, one[0])
		if len(header) > 64 {
			return nil, nil, fmt.Errorf("wyoming header too long")
		}
	}

	jsonPart, payloadPart, ok := strings.Cut(strings.TrimSpace(string(header)), " ")
	if !ok {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", header)
	}
	jsonLen, err := strconv.Atoi(jsonPart)
	if err != nil || jsonLen < 0 || jsonLen > maxEventJSON {
		return nil, nil, fmt.Errorf("invalid json_length %q", jsonPart)
	}
	payloadLen, err := strconv.Atoi(strings.TrimSpace(payloadPart))
	if err != nil || payloadLen < 0 {
		return nil, nil, fmt.Errorf("invalid payload_length %q", payloadPart)
	}

	// JSON plus its trailing newline.
	buf := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	var evt event
	if err := json.Unmarshal(buf[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}
