// Package cursor provides opaque continuation cursors and a page-filling
// paginator over DynamoDB queries.
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrInvalidCursor indicates the caller supplied a cursor that cannot be
// decoded or that the store rejected. It is a client input error.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// Encode converts a DynamoDB key into an opaque cursor string. The cursor
// is base64 of a JSON object mapping each key attribute name to its value,
// so it round-trips exactly for re-query.
func Encode(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}

	plain := make(map[string]any, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			plain[name] = v.Value
		case *types.AttributeValueMemberN:
			plain[name] = json.Number(v.Value)
		default:
			return "", fmt.Errorf("unsupported key attribute type for %q", name)
		}
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode converts an opaque cursor string back into a DynamoDB key.
// Malformed input returns ErrInvalidCursor.
func Decode(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var plain map[string]any
	if err := dec.Decode(&plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(plain) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidCursor)
	}

	key := make(map[string]types.AttributeValue, len(plain))
	for name, v := range plain {
		switch val := v.(type) {
		case string:
			key[name] = &types.AttributeValueMemberS{Value: val}
		case json.Number:
			key[name] = &types.AttributeValueMemberN{Value: val.String()}
		default:
			return nil, fmt.Errorf("%w: unsupported value for %q", ErrInvalidCursor, name)
		}
	}
	return key, nil
}

// keyNames returns the attribute names of a key in stable order.
func keyNames(key map[string]types.AttributeValue) []string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
