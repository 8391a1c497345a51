package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// compileFilters parses and compiles jq expressions.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesAll reports whether every filter yields a truthy first result for v.
// v is round-tripped through JSON so filters see the wire field names.
func matchesAll(filters []*gojq.Code, v interface{}) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, err
	}

	for _, code := range filters {
		iter := code.Run(doc)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, err
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
