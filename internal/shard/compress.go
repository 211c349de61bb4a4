package shard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// encodeDocSet serialises a doc-id set as a sorted JSON array and
// zlib-compresses it.
func encodeDocSet(docIDs map[string]struct{}) ([]byte, error) {
	ids := make([]string, 0, len(docIDs))
	for id := range docIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshaling doc-id set: %w", err)
	}
	return compress(payload)
}

// decodeDocSet reverses encodeDocSet.
func decodeDocSet(data []byte) (map[string]struct{}, error) {
	payload, err := decompress(data)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		return nil, fmt.Errorf("parsing doc-id set: %w", err)
	}
	docIDs := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		docIDs[id] = struct{}{}
	}
	return docIDs, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flushing compressor: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compressed payload: %w", err)
	}
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	return payload, nil
}
