package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
)

// decode validates data against s, when set, and unmarshals it into T.
func decode[T any](s *common.Schema, data []byte) (T, error) {
	var out T
	if s != nil {
		if err := s.Validate(data); err != nil {
			return out, err
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal %T: %w", out, err)
	}
	return out, nil
}
