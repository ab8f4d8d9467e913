/*
Copyright OpenCred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package jsonutil

import (
	"encoding/json"
	"fmt"
)

// MergeCustomFields converts value to a map and adds extra fields to the result.
// A custom field whose key collides with a field of v is dropped.
func MergeCustomFields(v interface{}, fields map[string]interface{}) (map[string]interface{}, error) {
	kf, err := toMap(v)
	if err != nil {
		return nil, err
	}

	for k, v := range fields {
		if _, exists := kf[k]; !exists {
			kf[k] = v
		}
	}

	return kf, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert to map: %w", err)
	}

	var m map[string]interface{}

	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("convert to map: %w", err)
	}

	return m, nil
}
