// Package serialization provides utilities for serializing and deserializing the JSON
// documents the twinstore core persists: job request payloads, checkpoint section state,
// and twin/relationship property maps.
package serialization

import (
	"encoding/json"

	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const moduleName = "serialization"

// MarshalDocument serializes a property map into a JSON byte slice.
// A nil map serializes to an empty JSON object so stored columns never hold SQL NULL.
func MarshalDocument(doc map[string]interface{}) ([]byte, error) {
	if doc == nil {
		logger.Debugf("Document is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		logger.Errorf("Failed to serialize document: %v", err)
		return nil, exception.NewStoreError(moduleName, "Failed to serialize document", err, exception.CategoryInfrastructure, false, false)
	}
	return data, nil
}

// UnmarshalDocument deserializes a JSON byte slice into a property map.
// The target map is cleared first so stale keys never survive a reload.
func UnmarshalDocument(data []byte, doc *map[string]interface{}) error {
	if *doc == nil {
		*doc = make(map[string]interface{})
	} else {
		for k := range *doc {
			delete(*doc, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	if err := json.Unmarshal(data, doc); err != nil {
		logger.Errorf("Failed to deserialize document: %v", err)
		return exception.NewStoreError(moduleName, "Failed to deserialize document", err, exception.CategoryInfrastructure, false, false)
	}
	return nil
}

// MarshalSectionFlags serializes per-section completion flags into a JSON byte slice.
func MarshalSectionFlags(flags map[string]bool) ([]byte, error) {
	if flags == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(flags)
	if err != nil {
		logger.Errorf("Failed to serialize section flags: %v", err)
		return nil, exception.NewStoreError(moduleName, "Failed to serialize section flags", err, exception.CategoryInfrastructure, false, false)
	}
	return data, nil
}

// UnmarshalSectionFlags deserializes a JSON byte slice into per-section completion flags.
func UnmarshalSectionFlags(data []byte, flags *map[string]bool) error {
	if *flags == nil {
		*flags = make(map[string]bool)
	} else {
		for k := range *flags {
			delete(*flags, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	if err := json.Unmarshal(data, flags); err != nil {
		logger.Errorf("Failed to deserialize section flags: %v", err)
		return exception.NewStoreError(moduleName, "Failed to deserialize section flags", err, exception.CategoryInfrastructure, false, false)
	}
	return nil
}
