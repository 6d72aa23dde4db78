package build

import (
	"encoding/json"
	"fmt"
	"strings"
)

// atomicFactBlock is the structured response shape the extraction system prompt
// asks for, mirroring AtomicFact's atomic_fact field from the Python reference.
type atomicFactBlock struct {
	AtomicFact []string `json:"atomic_fact"`
}

// parseAtomicFactBlock decodes one extraction response and trims/drops blank
// facts, matching the reference's `for f in getattr(b, "atomic_fact", []) or []`
// loop.
func parseAtomicFactBlock(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var block atomicFactBlock
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		return nil, fmt.Errorf("unmarshal atomic fact block: %w", err)
	}
	facts := make([]string, 0, len(block.AtomicFact))
	for _, f := range block.AtomicFact {
		f = strings.TrimSpace(f)
		if f != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}
